package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type None struct{}

type DocumentURI string

type InitializeParams struct {
	// ProcessID is null when the client has no parent process.
	ProcessID  *int        `json:"processId"`
	ClientInfo *ClientInfo `json:"clientInfo,omitempty"`
	Locale     string      `json:"locale,omitempty"`

	// RootPath is DEPRECATED in favor of the RootURI field. Both are
	// sent as null when no workspace folder is open.
	RootPath *string      `json:"rootPath"`
	RootURI  *DocumentURI `json:"rootUri"`

	InitializationOptions interface{} `json:"initializationOptions,omitempty"`
	Capabilities          Object      `json:"capabilities"`
	Trace                 TraceValue  `json:"trace,omitempty"`

	// WorkspaceFolders is null if no folder is open.
	WorkspaceFolders []WorkspaceFolder `json:"workspaceFolders"`
	WorkDoneToken    *ProgressToken    `json:"workDoneToken,omitempty"`
}

// Root returns the RootURI if set, or otherwise the RootPath with 'file://' prepended.
func (p *InitializeParams) Root() DocumentURI {
	if p.RootURI != nil && *p.RootURI != "" {
		return *p.RootURI
	}
	if p.RootPath == nil {
		return ""
	}
	if strings.HasPrefix(*p.RootPath, "file://") {
		return DocumentURI(*p.RootPath)
	}
	return DocumentURI("file://" + *p.RootPath)
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// InitializeError is the data attached to a failed initialize response.
type InitializeError struct {
	Retry bool `json:"retry"`
}

type InitializedParams struct{}

// TextDocumentSyncKind is a DEPRECATED way to describe how text
// document syncing works. Use TextDocumentSyncOptions instead (or the
// Options field of TextDocumentSyncOptionsOrKind if you need to
// support JSON-(un)marshaling both).
type TextDocumentSyncKind int

const (
	TDSKNone        TextDocumentSyncKind = 0
	TDSKFull        TextDocumentSyncKind = 1
	TDSKIncremental TextDocumentSyncKind = 2
)

type TextDocumentSyncOptions struct {
	OpenClose         bool                 `json:"openClose,omitempty"`
	Change            TextDocumentSyncKind `json:"change"`
	WillSave          bool                 `json:"willSave,omitempty"`
	WillSaveWaitUntil bool                 `json:"willSaveWaitUntil,omitempty"`
	Save              *SaveOptions         `json:"save,omitempty"`
}

type SaveOptions struct {
	IncludeText bool `json:"includeText"`
}

// PositionEncodingKind names how character offsets in a Position are counted.
type PositionEncodingKind string

const (
	UTF8  PositionEncodingKind = "utf-8"
	UTF16 PositionEncodingKind = "utf-16"
	UTF32 PositionEncodingKind = "utf-32"
)

type ServerCapabilities struct {
	PositionEncoding       PositionEncodingKind           `json:"positionEncoding,omitempty"`
	TextDocumentSync       *TextDocumentSyncOptionsOrKind `json:"textDocumentSync,omitempty"`
	HoverProvider          interface{}                    `json:"hoverProvider,omitempty"`
	CompletionProvider     interface{}                    `json:"completionProvider,omitempty"`
	DefinitionProvider     interface{}                    `json:"definitionProvider,omitempty"`
	CodeActionProvider     interface{}                    `json:"codeActionProvider,omitempty"`
	RenameProvider         interface{}                    `json:"renameProvider,omitempty"`
	ExecuteCommandProvider *ExecuteCommandOptions         `json:"executeCommandProvider,omitempty"`

	Workspace *WorkspaceServerCapabilities `json:"workspace,omitempty"`

	Experimental interface{} `json:"experimental,omitempty"`
}

type WorkspaceServerCapabilities struct {
	WorkspaceFolders *WorkspaceFoldersServerCapabilities `json:"workspaceFolders,omitempty"`
}

type WorkspaceFoldersServerCapabilities struct {
	Supported bool `json:"supported,omitempty"`

	// ChangeNotifications is a string or a boolean. A string is the
	// registration id the server may later use to unregister.
	ChangeNotifications interface{} `json:"changeNotifications,omitempty"`
}

type ExecuteCommandOptions struct {
	Commands []string `json:"commands"`
}

type Position struct {
	// Line is zero-based.
	Line uint32 `json:"line"`

	// Character is a zero-based UTF-16 code unit offset.
	Character uint32 `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

type Location struct {
	URI   DocumentURI `json:"uri"`
	Range Range       `json:"range"`
}

type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

type VersionedTextDocumentIdentifier struct {
	URI     DocumentURI `json:"uri"`
	Version int32       `json:"version"`
}

// OptionalVersionedTextDocumentIdentifier has a null Version when the
// edit applies to the document on disk.
type OptionalVersionedTextDocumentIdentifier struct {
	URI     DocumentURI `json:"uri"`
	Version *int32      `json:"version"`
}

type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int32       `json:"version"`
	Text       string      `json:"text"`
}

type DiagnosticSeverity int

const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	case SeverityHint:
		return "hint"
	}
	return fmt.Sprintf("DiagnosticSeverity(%v)", int(s))
}

type Diagnostic struct {
	Range              Range                          `json:"range"`
	Severity           DiagnosticSeverity             `json:"severity,omitempty"`
	Code               interface{}                    `json:"code,omitempty"` // int | string
	Source             string                         `json:"source,omitempty"`
	Message            string                         `json:"message"`
	Tags               []int                          `json:"tags,omitempty"`
	RelatedInformation []DiagnosticRelatedInformation `json:"relatedInformation,omitempty"`
	Data               json.RawMessage                `json:"data,omitempty"`
}

type DiagnosticRelatedInformation struct {
	Location Location `json:"location"`
	Message  string   `json:"message"`
}

type PublishDiagnosticsParams struct {
	URI         DocumentURI  `json:"uri"`
	Version     *int32       `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

type Registration struct {
	ID              string          `json:"id"`
	Method          string          `json:"method"`
	RegisterOptions json.RawMessage `json:"registerOptions,omitempty"`
}

type RegistrationParams struct {
	Registrations []Registration `json:"registrations"`
}

type Unregistration struct {
	ID     string `json:"id"`
	Method string `json:"method"`
}

type UnregistrationParams struct {
	// The misspelling is part of the protocol.
	Unregisterations []Unregistration `json:"unregisterations"`
}

// TextDocumentRegistrationOptions is embedded by registration options
// scoped to a set of documents.
type TextDocumentRegistrationOptions struct {
	DocumentSelector DocumentSelector `json:"documentSelector"`
}

type TextDocumentChangeRegistrationOptions struct {
	TextDocumentRegistrationOptions
	SyncKind TextDocumentSyncKind `json:"syncKind"`
}

type WorkspaceEdit struct {
	Changes         map[DocumentURI][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []DocumentChange           `json:"documentChanges,omitempty"`
}

type TextDocumentEdit struct {
	TextDocument OptionalVersionedTextDocumentIdentifier `json:"textDocument"`
	Edits        []TextEdit                              `json:"edits"`
}

type ResourceOperationKind string

const (
	CreateOp ResourceOperationKind = "create"
	RenameOp ResourceOperationKind = "rename"
	DeleteOp ResourceOperationKind = "delete"
)

type FileOptions struct {
	Overwrite         bool `json:"overwrite,omitempty"`
	IgnoreIfExists    bool `json:"ignoreIfExists,omitempty"`
	IgnoreIfNotExists bool `json:"ignoreIfNotExists,omitempty"`
	Recursive         bool `json:"recursive,omitempty"`
}

type CreateFile struct {
	Kind    ResourceOperationKind `json:"kind"`
	URI     DocumentURI           `json:"uri"`
	Options *FileOptions          `json:"options,omitempty"`
}

type RenameFile struct {
	Kind    ResourceOperationKind `json:"kind"`
	OldURI  DocumentURI           `json:"oldUri"`
	NewURI  DocumentURI           `json:"newUri"`
	Options *FileOptions          `json:"options,omitempty"`
}

type DeleteFile struct {
	Kind    ResourceOperationKind `json:"kind"`
	URI     DocumentURI           `json:"uri"`
	Options *FileOptions          `json:"options,omitempty"`
}

type ApplyWorkspaceEditParams struct {
	Label string        `json:"label,omitempty"`
	Edit  WorkspaceEdit `json:"edit"`
}

type ApplyWorkspaceEditResult struct {
	Applied       bool   `json:"applied"`
	FailureReason string `json:"failureReason,omitempty"`
	FailedChange  *int   `json:"failedChange,omitempty"`
}

type MessageType int

const (
	MTError   MessageType = 1
	MTWarning MessageType = 2
	Info      MessageType = 3
	Log       MessageType = 4
	Debug     MessageType = 5
)

func (mt MessageType) String() string {
	switch mt {
	case MTError:
		return "Error"
	case MTWarning:
		return "Warning"
	case Info:
		return "Info"
	case Log:
		return "Log"
	case Debug:
		return "Debug"
	}
	return fmt.Sprintf("MessageType(%v)", int(mt))
}

type ShowMessageParams struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type MessageActionItem struct {
	Title string `json:"title"`
}

type ShowMessageRequestParams struct {
	Type    MessageType         `json:"type"`
	Message string              `json:"message"`
	Actions []MessageActionItem `json:"actions,omitempty"`
}

type LogMessageParams struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type ShowDocumentParams struct {
	URI       DocumentURI `json:"uri"`
	External  bool        `json:"external,omitempty"`
	TakeFocus bool        `json:"takeFocus,omitempty"`
	Selection *Range      `json:"selection,omitempty"`
}

type ShowDocumentResult struct {
	Success bool `json:"success"`
}

type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

type TextDocumentContentChangeEvent struct {
	Range       *Range `json:"range,omitempty"`
	RangeLength uint32 `json:"rangeLength,omitempty"`
	Text        string `json:"text"`
}

type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         *string                `json:"text,omitempty"`
}

type ConfigurationParams struct {
	Items []ConfigurationItem `json:"items"`
}

type ConfigurationItem struct {
	ScopeURI string `json:"scopeUri,omitempty"`
	Section  string `json:"section,omitempty"`
}

type ConfigurationResult []interface{}

type DidChangeConfigurationParams struct {
	Settings interface{} `json:"settings"`
}

type FileChangeType int

const (
	Created FileChangeType = 1
	Changed FileChangeType = 2
	Deleted FileChangeType = 3
)

type FileEvent struct {
	URI  DocumentURI    `json:"uri"`
	Type FileChangeType `json:"type"`
}

type DidChangeWatchedFilesParams struct {
	Changes []FileEvent `json:"changes"`
}

// WatchKind is a bit set of the file events a watcher wants.
type WatchKind int

const (
	WatchCreate WatchKind = 1
	WatchChange WatchKind = 2
	WatchDelete WatchKind = 4
)

type FileSystemWatcher struct {
	// GlobPattern is a pattern string or a relative pattern. Only
	// pattern strings are supported.
	GlobPattern string    `json:"globPattern"`
	Kind        WatchKind `json:"kind,omitempty"`
}

type DidChangeWatchedFilesRegistrationOptions struct {
	Watchers []FileSystemWatcher `json:"watchers"`
}

type WorkspaceFolder struct {
	URI  DocumentURI `json:"uri"`
	Name string      `json:"name"`
}

type ProgressParams struct {
	Token ProgressToken   `json:"token"`
	Value json.RawMessage `json:"value"`
}

type WorkDoneProgressCreateParams struct {
	Token ProgressToken `json:"token"`
}

type WorkDoneProgressKind string

const (
	ProgressBegin  WorkDoneProgressKind = "begin"
	ProgressReport WorkDoneProgressKind = "report"
	ProgressEnd    WorkDoneProgressKind = "end"
)

// WorkDoneProgress is the union of the begin, report and end values of
// a work done progress stream.
type WorkDoneProgress struct {
	Kind        WorkDoneProgressKind `json:"kind"`
	Title       string               `json:"title,omitempty"`
	Cancellable bool                 `json:"cancellable,omitempty"`
	Message     string               `json:"message,omitempty"`
	Percentage  *uint32              `json:"percentage,omitempty"`
}

type WorkDoneProgressCancelParams struct {
	Token ProgressToken `json:"token"`
}

type CancelParams struct {
	ID interface{} `json:"id"` // int | string
}

type TraceValue string

const (
	TraceOff      TraceValue = "off"
	TraceMessages TraceValue = "messages"
	TraceVerbose  TraceValue = "verbose"
)

type SetTraceParams struct {
	Value TraceValue `json:"value"`
}

type LogTraceParams struct {
	Message string `json:"message"`
	Verbose string `json:"verbose,omitempty"`
}
