// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// warrant-call sends one action to a warrant-service socket and
// prints the JSON response. For scripting and debugging:
//
//	warrant-call --socket /run/warrant/warrant.sock spawn \
//	    '{"prompt": "summarize the logs", "session": "dev"}'
//
//	warrant-call create_bundle '{"session": "dev"}' \
//	    --file helper.py=./scripts/helper.py
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/warrant-foundation/warrant/lib/service"
	"github.com/warrant-foundation/warrant/lib/version"
)

const defaultSocketPath = "/run/warrant/warrant.sock"

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func realMain() error {
	var (
		socketPath  string
		filesFlags  []string
		showVersion bool
	)

	flags := pflag.NewFlagSet("warrant-call", pflag.ContinueOnError)
	flags.StringVar(&socketPath, "socket", defaultSocketPath, "warrant service socket path")
	flags.StringArrayVar(&filesFlags, "file", nil, "attach a file as name=path (repeatable, for create_bundle)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: warrant-call [flags] <action> [JSON body]\n\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("warrant-call %s\n", version.Info())
		return nil
	}

	args := flags.Args()
	if len(args) < 1 || len(args) > 2 {
		flags.Usage()
		return fmt.Errorf("expected <action> [JSON body]")
	}
	action := args[0]

	request := map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &request); err != nil {
			return fmt.Errorf("parsing request body: %w", err)
		}
	}

	// Bundle files carry raw bytes; attach them from disk so the
	// caller does not have to base64 anything by hand.
	if len(filesFlags) > 0 {
		files := map[string][]byte{}
		for _, spec := range filesFlags {
			name, path, ok := strings.Cut(spec, "=")
			if !ok || name == "" || path == "" {
				return fmt.Errorf("invalid --file %q, want name=path", spec)
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading --file %s: %w", spec, err)
			}
			files[name] = content
		}
		request["files"] = files
	}

	client := service.NewClient(socketPath)
	var result any
	if err := client.Call(context.Background(), action, request, &result); err != nil {
		return err
	}

	if result == nil {
		fmt.Println(`{"ok": true}`)
		return nil
	}
	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting response: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
