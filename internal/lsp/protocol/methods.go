package protocol

// Method names used by the client runtime.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"

	MethodCancelRequest = "$/cancelRequest"
	MethodProgress      = "$/progress"
	MethodSetTrace      = "$/setTrace"
	MethodLogTrace      = "$/logTrace"

	MethodRegisterCapability   = "client/registerCapability"
	MethodUnregisterCapability = "client/unregisterCapability"

	MethodShowMessage            = "window/showMessage"
	MethodShowMessageRequest     = "window/showMessageRequest"
	MethodLogMessage             = "window/logMessage"
	MethodShowDocument           = "window/showDocument"
	MethodWorkDoneProgressCreate = "window/workDoneProgress/create"
	MethodWorkDoneProgressCancel = "window/workDoneProgress/cancel"
	MethodTelemetryEvent         = "telemetry/event"

	MethodApplyEdit                      = "workspace/applyEdit"
	MethodConfiguration                  = "workspace/configuration"
	MethodDidChangeConfiguration         = "workspace/didChangeConfiguration"
	MethodDidChangeWatchedFiles          = "workspace/didChangeWatchedFiles"
	MethodDidChangeWorkspaceFolders      = "workspace/didChangeWorkspaceFolders"
	MethodTextDocumentDidOpen            = "textDocument/didOpen"
	MethodTextDocumentDidChange          = "textDocument/didChange"
	MethodTextDocumentDidSave            = "textDocument/didSave"
	MethodTextDocumentDidClose           = "textDocument/didClose"
	MethodTextDocumentPublishDiagnostics = "textDocument/publishDiagnostics"
)
