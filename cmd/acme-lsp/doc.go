/*
The program acme-lsp is a client for the acme text editor that
keeps a set of Language Server Protocol servers informed about the
files open in acme.

A Language Server implements the Language Server Protocol
(see https://langserver.org/), which provides language features
like diagnostics, go to definition, find all references, etc.
Acme-lsp depends on one or more language servers already being
installed in the system.  See this page of a list of language servers:
https://microsoft.github.io/language-server-protocol/implementors/servers/.

Acme-lsp is optionally configured using a TOML-based configuration file
located at UserConfigDir/acme-lsp/config.toml (the -showconfig flag
prints the exact location).  The command line flags will override the
configuration values.  Changes to the file's trace settings and to the
Settings of the servers take effect without restarting acme-lsp; the
servers are told about the new settings.

Acme-lsp executes or connects to the LSP servers described in the
configuration file or in the -server or -dial flags. A server is
started the first time a file it handles is opened in acme, and it is
restarted if it crashes, unless it crashes too often.

Acme-lsp watches for files created (New), loaded (Get), saved (Put), or
deleted (Del) in acme, and tells the LSP server about these changes. The
LSP server in turn responds by sending diagnostics information (compiler
errors, lint errors, etc.) which are shown in a "/LSP/Diagnostics" window.
Executing Reload in that window redraws it. Edits requested by a server
are applied to the acme window of the file, or to the file itself if it
is not open in acme. Documents a server asks to show are sent to the
plumber.

	Usage: acme-lsp [flags]

	  -dial value
	    	map filename to language server address. The format is
	    	'handlers:host:port'. See -server flag for format of
	    	handlers. (e.g. '\.go$:localhost:4389')
	  -log string
	    	write log to this file instead of stderr
	  -rootdir string
	    	root directory used for LSP initialization (default "/")
	  -rpc.trace
	    	print the full rpc trace in lsp inspector format
	  -server value
	    	map filename to language server command. The format is
	    	'handlers:cmd' where cmd is the LSP server command and handlers is
	    	a comma separated list of 'regexp[@lang]'. The regexp matches the
	    	filename and lang is a language identifier. (e.g. '\.go$:gopls' or
	    	'go.mod$@go.mod,go.sum$@go.sum,\.go$@go:gopls')
	  -showconfig
	    	show configuration values and exit
	  -v	Verbose output
	  -workspaces string
	    	colon-separated list of initial workspace directories
*/
package main
