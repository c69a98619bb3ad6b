package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Platform selects how the validator roster is fetched
type Platform int

const (
	PlatformICON Platform = iota
	PlatformHAVAH
)

// governanceAddress is the system score answering roster queries on both platforms
const governanceAddress = "cx0000000000000000000000000000000000000000"

func (p Platform) String() string {
	switch p {
	case PlatformICON:
		return "icon"
	case PlatformHAVAH:
		return "havah"
	default:
		return fmt.Sprintf("platform(%d)", int(p))
	}
}

// ParsePlatform maps a configuration value onto a Platform
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "icon":
		return PlatformICON, nil
	case "havah":
		return PlatformHAVAH, nil
	default:
		return 0, fmt.Errorf("unknown platform %q (expected icon or havah)", s)
	}
}

// Validator is one registered roster entry
type Validator struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner string `json:"owner,omitempty"`
	Grade string `json:"grade,omitempty"`
}

// ValidatorRegistry fetches the registered validator roster, keyed by node identity
type ValidatorRegistry interface {
	RegisteredValidators(ctx context.Context, baseURL string) (map[string]Validator, error)
}

// NewRegistry returns the roster implementation of a platform
func NewRegistry(p Platform, caller Fetcher) (ValidatorRegistry, error) {
	switch p {
	case PlatformICON:
		return &iconRegistry{caller: caller}, nil
	case PlatformHAVAH:
		return &havahRegistry{caller: caller}, nil
	default:
		return nil, fmt.Errorf("no validator registry for %s", p)
	}
}

// iconRegistry reads P-Reps through getPReps, keyed by nodeAddress
type iconRegistry struct {
	caller Fetcher
}

func (r *iconRegistry) RegisteredValidators(ctx context.Context, baseURL string) (map[string]Validator, error) {
	raw, err := r.caller.Call(ctx, APIURL(baseURL), "icx_call", callParams("getPReps", nil))
	if err != nil {
		return nil, err
	}
	return parseRoster(raw, "preps", "nodeAddress", "address")
}

// havahRegistry reads validators through getValidatorsInfo, keyed by node
type havahRegistry struct {
	caller Fetcher
}

func (r *havahRegistry) RegisteredValidators(ctx context.Context, baseURL string) (map[string]Validator, error) {
	raw, err := r.caller.Call(ctx, APIURL(baseURL), "icx_call",
		callParams("getValidatorsInfo", map[string]string{"dataType": "all"}))
	if err != nil {
		return nil, err
	}
	return parseRoster(raw, "validators", "node", "owner")
}

func callParams(method string, params any) map[string]any {
	data := map[string]any{"method": method}
	if params != nil {
		data["params"] = params
	}
	return map[string]any{
		"to":       governanceAddress,
		"dataType": "call",
		"data":     data,
	}
}

// parseRoster extracts listField entries keyed by keyField.
// Entries without a key fall back to ownerField.
func parseRoster(raw json.RawMessage, listField, keyField, ownerField string) (map[string]Validator, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to parse roster: %w", err)}
	}

	list, ok := envelope[listField]
	if !ok {
		return nil, &TransportError{Err: fmt.Errorf("roster response has no %q field", listField)}
	}

	var entries []map[string]any
	if err := json.Unmarshal(list, &entries); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to parse %s: %w", listField, err)}
	}

	roster := make(map[string]Validator, len(entries))
	for _, entry := range entries {
		owner := stringField(entry, ownerField)
		key := stringField(entry, keyField)
		if key == "" {
			key = owner
		}
		if key == "" {
			continue
		}
		roster[key] = Validator{
			ID:    key,
			Name:  stringField(entry, "name"),
			Owner: owner,
			Grade: stringField(entry, "grade"),
		}
	}
	return roster, nil
}

func stringField(entry map[string]any, field string) string {
	if v, ok := entry[field].(string); ok {
		return v
	}
	return ""
}
