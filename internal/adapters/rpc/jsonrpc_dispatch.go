package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"velgo-hub/client-core/pkg/models"
)

func (s *Server) dispatchRPC(r *http.Request, method string, rawParams json.RawMessage) (any, *rpcError) {
	if method == "health_check" {
		return map[string]string{"status": "ok"}, nil
	}
	if result, rpcErr, ok := s.dispatchStateRPC(r, method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchAuthRPC(r, method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchPaymentsRPC(method, rawParams); ok {
		return result, rpcErr
	}
	return nil, &rpcError{Code: -32601, Message: "method not found"}
}

func (s *Server) dispatchStateRPC(r *http.Request, method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "state.get":
		return s.service.UIState(), nil, true

	case "nav.navigate":
		screen, payload, err := decodeNavigateParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		if err := s.service.Navigate(models.Screen(screen), payload); err != nil {
			return nil, rpcServiceError(-32040, err), true
		}
		return map[string]bool{"ok": true}, nil, true

	case "profile.retry":
		s.service.RetryProfile()
		return map[string]bool{"ok": true}, nil, true

	case "profile.avatar":
		filename, contentType, data, err := decodeAvatarParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		url, err := s.service.UpdateAvatar(r.Context(), filename, contentType, data)
		if err != nil {
			return nil, rpcServiceError(-32042, err), true
		}
		return map[string]string{"avatar_url": url}, nil, true

	case "toast.dismiss":
		id, err := decodeOptionalStringParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		s.service.DismissToast(id)
		return map[string]bool{"ok": true}, nil, true

	case "guide.dismiss":
		s.service.DismissGuide()
		return map[string]bool{"ok": true}, nil, true

	case "cache.status":
		status, err := s.service.CacheStatus()
		if err != nil {
			return nil, rpcServiceError(-32041, err), true
		}
		return status, nil, true
	}
	return nil, nil, false
}

func (s *Server) dispatchAuthRPC(r *http.Request, method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "auth.signIn":
		result, rpcErr := callWithTwoStringParams(rawParams, -32010, func(email, password string) (any, error) {
			if err := s.service.SignIn(r.Context(), email, password); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		})
		return result, mapAuthError(rpcErr), true

	case "auth.signOut":
		result, rpcErr := callWithoutParams(-32012, func() (any, error) {
			if err := s.service.SignOut(r.Context()); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		})
		return result, rpcErr, true

	case "auth.updatePassword":
		password, confirm, err := decodePasswordParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		if confirm != "" && confirm != password {
			return nil, &rpcError{Code: -32013, Message: "passwords do not match"}, true
		}
		if err := s.service.UpdatePassword(r.Context(), password); err != nil {
			return nil, rpcServiceError(-32013, err), true
		}
		return map[string]bool{"ok": true}, nil, true

	case "auth.recoveryLink":
		result, rpcErr := callWithSingleStringParam(rawParams, -32014, func(token string) (any, error) {
			if err := s.service.RecoveryLink(r.Context(), token); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		})
		return result, rpcErr, true
	}
	return nil, nil, false
}

func (s *Server) dispatchPaymentsRPC(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "payments.checkout":
		result, rpcErr := callWithSingleStringParam(rawParams, -32030, func(tier string) (any, error) {
			return s.service.InitCheckout(tier)
		})
		return result, rpcErr, true

	case "payments.completed":
		result, rpcErr := callWithSingleStringParam(rawParams, -32031, func(reference string) (any, error) {
			if err := s.service.CompleteCheckout(reference); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		})
		return result, rpcErr, true

	case "payments.closed":
		result, rpcErr := callWithSingleStringParam(rawParams, -32032, func(reference string) (any, error) {
			if err := s.service.CloseCheckout(reference); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		})
		return result, rpcErr, true
	}
	return nil, nil, false
}

func callWithoutParams(serviceErrCode int, call func() (any, error)) (any, *rpcError) {
	result, err := call()
	if err != nil {
		return nil, rpcServiceError(serviceErrCode, err)
	}
	return result, nil
}

func callWithSingleStringParam(rawParams json.RawMessage, serviceErrCode int, call func(string) (any, error)) (any, *rpcError) {
	param, err := decodeSingleStringParam(rawParams)
	if err != nil {
		return nil, rpcInvalidParams()
	}
	result, err := call(param)
	if err != nil {
		return nil, rpcServiceError(serviceErrCode, err)
	}
	return result, nil
}

func callWithTwoStringParams(rawParams json.RawMessage, serviceErrCode int, call func(string, string) (any, error)) (any, *rpcError) {
	a, b, err := decodeTwoStringParams(rawParams)
	if err != nil {
		return nil, rpcInvalidParams()
	}
	result, err := call(a, b)
	if err != nil {
		return nil, rpcServiceError(serviceErrCode, err)
	}
	return result, nil
}

var errInvalidParams = errors.New("invalid params")
