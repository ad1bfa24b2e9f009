/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/connectcrm/agentdesk/consolesdk"
)

// holdSuccessToken is the literal the provider returns in the hold response
// message field on success. Anything else is treated as failure even when the
// status flag is set.
const holdSuccessToken = "SUCCESS"

// ErrorKind classifies known provider business errors so the UI can show a
// specific message instead of the raw provider string.
type ErrorKind string

const (
	ErrorKindCapacity         ErrorKind = "capacity"
	ErrorKindAgentUnavailable ErrorKind = "agent_unavailable"
	ErrorKindGeneric          ErrorKind = "generic"
)

// ProviderError is a business-level rejection from the telephony provider:
// the HTTP exchange succeeded but the command was refused.
type ProviderError struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface with a kind-specific prefix.
func (e *ProviderError) Error() string {
	switch e.Kind {
	case ErrorKindCapacity:
		return "call capacity reached: " + e.Message
	case ErrorKindAgentUnavailable:
		return "agent unavailable: " + e.Message
	default:
		return e.Message
	}
}

// classifyProviderError maps known provider response strings to error kinds.
func classifyProviderError(msg string) *ProviderError {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "maximum channel limit"):
		return &ProviderError{Kind: ErrorKindCapacity, Message: msg}
	case strings.Contains(lower, "agent not available"):
		return &ProviderError{Kind: ErrorKindAgentUnavailable, Message: msg}
	default:
		return &ProviderError{Kind: ErrorKindGeneric, Message: msg}
	}
}

// IsProviderError reports whether err is a provider business rejection.
func IsProviderError(err error) bool {
	var e *ProviderError
	return errors.As(err, &e)
}

// ---- Control-plane commands ----

// controlClient issues the call commands to the telephony control plane over
// the shared core client.
type controlClient struct {
	core *consolesdk.Client
}

type placeCallRequest struct {
	CallerID     string `json:"callerId"`
	AgentNumber  string `json:"agentNumber"`
	TargetNumber string `json:"targetNumber"`
	ReferenceID  string `json:"referenceId"`
}

type placeCallResponse struct {
	Status bool `json:"status"`
	Data   struct {
		Response string `json:"response,omitempty"`
		CallID   string `json:"callId,omitempty"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

type disconnectRequest struct {
	CallerID string `json:"callerId"`
	CallID   string `json:"callId"`
}

type holdRequest struct {
	CallerID string `json:"callerId"`
	CallID   string `json:"callId"`
	Hold     bool   `json:"hold"`
}

type statusResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// placeCall issues the outbound-call command. A structured success must carry
// a call identifier; a status=false body is surfaced as a classified
// ProviderError.
func (cc *controlClient) placeCall(ctx context.Context, req placeCallRequest) (*placeCallResponse, error) {
	resp, err := cc.core.RequestWithRetry(ctx, http.MethodPost, "call/place", nil, req)
	if err != nil {
		return nil, err
	}

	var out placeCallResponse
	if err := consolesdk.ParseResponse(resp, &out); err != nil {
		return nil, err
	}

	if !out.Status {
		msg := out.Error
		if msg == "" {
			msg = out.Data.Response
		}
		if msg == "" {
			msg = "call placement rejected"
		}
		return nil, classifyProviderError(msg)
	}
	if out.Data.CallID == "" {
		return nil, fmt.Errorf("provider accepted the call but returned no call id")
	}
	return &out, nil
}

// disconnectCall issues the disconnect command for an accepted call.
func (cc *controlClient) disconnectCall(ctx context.Context, callerID, callID string) error {
	resp, err := cc.core.RequestWithRetry(ctx, http.MethodPost, "call/disconnect", nil, disconnectRequest{
		CallerID: callerID,
		CallID:   callID,
	})
	if err != nil {
		return err
	}

	var out statusResponse
	if err := consolesdk.ParseResponse(resp, &out); err != nil {
		return err
	}
	if !out.Status {
		msg := out.Error
		if msg == "" {
			msg = "disconnect rejected"
		}
		return classifyProviderError(msg)
	}
	return nil
}

// holdCall issues the hold/resume command. Success requires both the status
// flag and the exact success message literal.
func (cc *controlClient) holdCall(ctx context.Context, callerID, callID string, hold bool) error {
	resp, err := cc.core.RequestWithRetry(ctx, http.MethodPost, "call/hold", nil, holdRequest{
		CallerID: callerID,
		CallID:   callID,
		Hold:     hold,
	})
	if err != nil {
		return err
	}

	var out statusResponse
	if err := consolesdk.ParseResponse(resp, &out); err != nil {
		return err
	}
	if !out.Status || out.Message != holdSuccessToken {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("hold command not confirmed (message %q)", out.Message)
		}
		return classifyProviderError(msg)
	}
	return nil
}
