package courier

import (
	protocolpkg "github.com/courier-rpc/courier/internal/protocol"
	configpkg "github.com/courier-rpc/courier/internal/protocol/config"
	envelopepkg "github.com/courier-rpc/courier/internal/protocol/envelope"
	errdefspkg "github.com/courier-rpc/courier/internal/protocol/errdefs"
	idspkg "github.com/courier-rpc/courier/internal/protocol/ids"
	jsoncodec "github.com/courier-rpc/courier/internal/protocol/jsoncodec"
	loggingpkg "github.com/courier-rpc/courier/internal/protocol/logging"
	schemaspkg "github.com/courier-rpc/courier/internal/protocol/schemas"
)

type (
	Config              = configpkg.Config
	Service             = protocolpkg.Service
	ServiceDependencies = protocolpkg.ServiceDependencies

	Payload   = protocolpkg.Payload
	Context   = protocolpkg.Context
	Handler   = protocolpkg.Handler
	Responder = protocolpkg.Responder
	Engine    = protocolpkg.Engine
	Breakout  = protocolpkg.Breakout
	Metrics   = protocolpkg.Metrics

	Message  = envelopepkg.Message
	Exported = envelopepkg.Exported

	ClassifiedError = errdefspkg.ClassifiedError
	FatalError      = errdefspkg.FatalError
	ErrorDefinition = errdefspkg.Definition
	ErrorParams     = errdefspkg.Params
	ErrorTemplate   = errdefspkg.Template
	ErrorRegistry   = errdefspkg.Registry
	Schema          = schemaspkg.Schema

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
)

var (
	NewService     = protocolpkg.NewService
	TryNewService  = protocolpkg.TryNewService
	NewEngine      = protocolpkg.NewEngine
	NewBreakout    = protocolpkg.NewBreakout
	NewMetrics     = protocolpkg.NewMetrics
	ValidateConfig = configpkg.ValidateConfig

	LoadConfigFromEnv = configpkg.LoadFromEnv

	NewMessage    = envelopepkg.New
	MessageFrom   = envelopepkg.From
	ImportMessage = envelopepkg.Import

	NewErrorRegistry = errdefspkg.NewRegistry
	ErrorText        = errdefspkg.Text
	IsClassified     = errdefspkg.IsClassified
	AsClassified     = errdefspkg.AsClassified
	NormalizeFatal   = errdefspkg.NormalizeFatal

	CompileSchema     = schemaspkg.Compile
	MustCompileSchema = schemaspkg.MustCompile

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewWatermillAdapter  = loggingpkg.NewWatermillAdapter

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired     = protocolpkg.ErrConfigRequired
	ErrLoggerRequired     = protocolpkg.ErrLoggerRequired
	ErrDispatcherRequired = protocolpkg.ErrDispatcherRequired
	ErrPatternRequired    = protocolpkg.ErrPatternRequired
	ErrHandlerRequired    = protocolpkg.ErrHandlerRequired

	CreateULID = idspkg.CreateULID
)

// Error marker and built-in codes.
const (
	ErrorMarker = errdefspkg.Marker

	CodeUnknownErrorCode       = errdefspkg.CodeUnknownErrorCode
	CodeInvalidArgumentShape   = errdefspkg.CodeInvalidArgumentShape
	CodeHandlerNotAsynchronous = errdefspkg.CodeHandlerNotAsynchronous
	CodeSchemaValidationFailed = errdefspkg.CodeSchemaValidationFailed
	CodeUnknown                = errdefspkg.CodeUnknown
)

// TraceIDKey is the call-context key carrying the request trace id.
const TraceIDKey = protocolpkg.TraceIDKey
