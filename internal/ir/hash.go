package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainBatch     = "optisync/batch/v1"
	DomainOperation = "optisync/operation/v1"
)

// hashWithDomain computes SHA-256 with domain separation:
// SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// OperationHash computes the content-addressed id of an evaluated operation.
func OperationHash(op EvaluatedOperation) (string, error) {
	canonical, err := MarshalCanonical(OperationObject(op))
	if err != nil {
		return "", fmt.Errorf("OperationHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOperation, canonical), nil
}

// BatchHash computes the content-addressed id of an evaluated batch.
// Operation order is part of the identity.
func BatchHash(ops []EvaluatedOperation) (string, error) {
	list := make([]any, len(ops))
	for i, op := range ops {
		list[i] = OperationObject(op)
	}
	canonical, err := MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("BatchHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBatch, canonical), nil
}

// MustBatchHash is like BatchHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustBatchHash(ops []EvaluatedOperation) string {
	h, err := BatchHash(ops)
	if err != nil {
		panic(err)
	}
	return h
}

// OperationObject converts an operation to its wire map shape. Optional
// members are omitted when empty.
func OperationObject(op EvaluatedOperation) map[string]any {
	obj := map[string]any{
		"entity": op.Entity,
		"op":     string(op.Op),
		"data":   dataOrEmpty(op.Data),
	}
	if op.ID != nil {
		obj["id"] = op.ID
	}
	if op.IDs != nil {
		obj["ids"] = op.IDs
	}
	if op.Where != nil {
		obj["where"] = op.Where
	}
	if len(op.Deferred) > 0 {
		deferred := make(map[string]any, len(op.Deferred))
		for field, d := range op.Deferred {
			deferred[field] = instructionObject(d)
		}
		obj["deferred"] = deferred
	}
	return obj
}

func instructionObject(d DeferredInstruction) map[string]any {
	if d.Type == InstrIf {
		obj := map[string]any{
			"type":      string(d.Type),
			"condition": d.Condition,
			"thenValue": d.ThenValue,
		}
		if d.HasElse {
			obj["elseValue"] = d.ElseValue
		}
		return obj
	}
	return map[string]any{
		"type":  string(d.Type),
		"value": d.Value,
	}
}

func dataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
