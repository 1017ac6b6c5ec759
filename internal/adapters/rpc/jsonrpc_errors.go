package rpc

import (
	"velgo-hub/client-core/internal/backend/identity"
)

func rpcInvalidParams() *rpcError {
	return &rpcError{Code: -32602, Message: "invalid params"}
}

func rpcServiceError(code int, err error) *rpcError {
	return &rpcError{Code: code, Message: err.Error()}
}

// mapAuthError gives bad credentials a dedicated code so the shell can show
// an inline form error instead of a generic failure.
func mapAuthError(rpcErr *rpcError) *rpcError {
	if rpcErr == nil {
		return nil
	}
	if rpcErr.Message == identity.ErrInvalidCredentials.Error() {
		return &rpcError{Code: -32011, Message: rpcErr.Message}
	}
	return rpcErr
}
