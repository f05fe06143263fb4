// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreHealthRecordFailure Code = "store.health.record.failure"
	CodeStoreSessionGetNotFound  Code = "store.session.get.not_found"
	CodeStoreEntityNotFound      Code = "store.entity.get.not_found"
	CodeStoreDatabaseFailure     Code = "store.database.failure"
	CodeStoreBackendUnsupported  Code = "store.backend.unsupported"
	CodeStoreConflict            Code = "store.conflict"
	CodeStoreInvalidInput        Code = "store.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeProviderInvokeTransient    Code = "provider.invoke.transient"
	CodeProviderInvokePermanent    Code = "provider.invoke.permanent"
	CodeProviderInvokeTimeout      Code = "provider.invoke.timeout"
	CodeProviderSessionExpired     Code = "provider.session.expired"
	CodeProviderSessionOpenFailure Code = "provider.session.open.failure"
	CodeProviderNotFound           Code = "provider.registry.not_found"
	CodeProviderDisabled           Code = "provider.toggle.disabled"
	CodeProviderModelUnsupported   Code = "provider.model.unsupported"
	CodeProviderKeyInvalid         Code = "provider.key.unauthorized"
	CodeProviderKeyCheckFailure    Code = "provider.key.check.failure"

	CodeRouterExhausted       Code = "router.candidates.exhausted"
	CodeRouterNoCandidates    Code = "router.candidates.not_found"
	CodeRouterInvalidModelRef Code = "router.model_ref.invalid"

	CodeProxyNoneAvailable Code = "proxy.select.not_found"
	CodeProxyNotFound      Code = "proxy.endpoint.not_found"

	CodeDisposableResetFailure Code = "disposable.reset.failure"
	CodeDisposableNotRunning   Code = "disposable.instance.forbidden"

	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretInvalidInput   Code = "secret.invalid_input"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerEntityNotFound   Code = "server.entity.not_found"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerStartFailure     Code = "server.start.failure"
	CodeServerShutdownFailure  Code = "server.shutdown.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldModel(value string) Attr {
	return Field("model", value)
}

func FieldProxy(value string) Attr {
	return Field("proxy", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format" || r == "invalid_model_ref"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden" || r == "denied"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsTransient reports whether err is a retryable provider failure.
// Timeouts count as transient for failover accounting.
func IsTransient(err error) bool {
	r := reason(CodeOf(err))
	return r == "transient" || r == "timeout"
}

// IsPermanent reports whether err is a provider failure that must not be
// retried against the same provider within a failover pass.
func IsPermanent(err error) bool {
	r := reason(CodeOf(err))
	return r == "permanent" || r == "disabled"
}

func IsSessionExpired(err error) bool {
	return HasCode(err, CodeProviderSessionExpired)
}

func IsExhausted(err error) bool {
	return reason(CodeOf(err)) == "exhausted"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		return http.StatusUnauthorized
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsExhausted(err), IsTransient(err), IsPermanent(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
