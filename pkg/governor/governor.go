// Package governor provides the public API for embedding the model
// governor in another service.
package governor

import (
	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/config"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider"
	"github.com/tjfontaine/polyglot-model-governor/internal/runtime"
)

// Governor wires and owns every component.
// See internal/runtime.Governor for full documentation.
type Governor = runtime.Governor

// Option is a functional option for configuring a Governor.
type Option = runtime.Option

// Config is the governor configuration.
type Config = config.Config

// Caller, request and result types used by Governor.Generate.
type (
	Caller            = domain.Caller
	GenerationRequest = domain.GenerationRequest
	Message           = domain.Message
	Result            = domain.Result
	Resolution        = domain.Resolution
	Failure           = domain.Failure
	DispatchError     = domain.DispatchError
)

// Adapter plumbing for WithAdapterFactory.
type (
	AdapterFactory = runtime.AdapterFactory
	Adapter        = ports.Adapter
	ProviderConfig = domain.ProviderConfig
	Deps           = provider.Deps
)

// New creates a Governor. Example:
//
//	governor.RegisterBuiltins()
//	cfg, _ := governor.LoadConfig("config.yaml")
//	g, err := governor.New(cfg)
var New = runtime.New

var (
	// LoadConfig reads a config file with GOV_ environment overrides.
	LoadConfig = config.LoadFile

	// RegisterBuiltins registers the key-bound and identity-bound adapter
	// families.
	RegisterBuiltins = provider.RegisterBuiltins
)

// Options
var (
	WithStore          = runtime.WithStore
	WithVault          = runtime.WithVault
	WithAdapterFactory = runtime.WithAdapterFactory
	WithDeps           = runtime.WithDeps
	WithLogger         = runtime.WithLogger
)
