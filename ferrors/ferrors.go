// Package ferrors declares the Kind-keyed error registry shared by every
// flagcore component. It follows the same embedded-table pattern the
// teacher uses in types/errors: kinds are registered once at init, and
// callers branch on Kind rather than on error strings.
package ferrors

import (
	_ "embed"

	"github.com/BurntSushi/toml"
	"github.com/alextanhongpin/errors"
)

type (
	Error = errors.Error
	Kind  = errors.Kind
)

const (
	// Evaluator kinds. ConfigurationMissing, FlagUnrecognizedOrDisabled and
	// DefaultAllocationNull are deliberately absent: per §7 they collapse to
	// a silent (nil, nil) at the API boundary and never become an *Error.
	ConfigurationParseError    Kind = "configuration_parse_error"
	UnexpectedConfigurationErr Kind = "unexpected_configuration_error"
	TypeMismatch               Kind = "type_mismatch"

	// Bandit kinds.
	NoActionsSuppliedForBandit Kind = "no_actions_supplied_for_bandit"
	BanditModelMissing         Kind = "bandit_model_missing"

	// Fetcher kinds.
	Unauthorized   Kind = "unauthorized"
	InvalidBaseURL Kind = "invalid_base_url"
	Retriable      Kind = "retriable_transport_error"
	NonRetriable   Kind = "non_retriable_transport_error"

	// Ingestion kinds.
	QueueFull     Kind = "queue_full"
	EventTooLarge Kind = "event_too_large"
)

var (
	//go:embed ferrors.toml
	messageTable []byte

	_ = errors.MustAddKinds(
		ConfigurationParseError,
		UnexpectedConfigurationErr,
		TypeMismatch,
		NoActionsSuppliedForBandit,
		BanditModelMissing,
		Unauthorized,
		InvalidBaseURL,
		Retriable,
		NonRetriable,
		QueueFull,
		EventTooLarge,
	)
	_ = errors.MustLoad(messageTable, toml.Unmarshal)

	// Get looks up a registered error template by its dotted key
	// ("flagcore.<kind>"), returning a fresh *Error carrying the
	// associated Kind.
	Get = errors.Get
)
