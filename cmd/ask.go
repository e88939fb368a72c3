package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codelenshq/oracle/internal/oracle"
	"github.com/codelenshq/oracle/internal/retrieval"
	"github.com/codelenshq/oracle/pkg/protocol"
)

func askCmd() *cobra.Command {
	var (
		user    string
		project string
		sources []string
		stream  bool
		explain bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the indexed project",
		Long: `Ask runs one question cycle: classify, retrieve evidence, rerank,
assemble context and answer with the tool-calling agent. The session's
conversation context persists across invocations.

Examples:
  oracle ask "Where is UserService defined?"
  oracle ask --project payments "How does retry backoff work?"
  oracle ask --explain "What calls validateToken?"`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runAsk(strings.Join(args, " "), user, project, sources, stream, explain)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", defaultUser(), "session user")
	cmd.Flags().StringVarP(&project, "project", "p", "default", "session project")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "restrict sources (code, documentation, graph-edge, history)")
	cmd.Flags().BoolVar(&stream, "stream", true, "stream answer tokens as they arrive")
	cmd.Flags().BoolVar(&explain, "explain", false, "print the retrieval trace")

	return cmd
}

func runAsk(question, user, project string, sources []string, stream, explain bool) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, _ := newService(ctx)
	defer svc.Close()

	var filter []retrieval.SourceType
	for _, s := range sources {
		filter = append(filter, retrieval.SourceType(s))
	}

	var sink protocol.Sink
	streamed := false
	if stream {
		sink = func(ev protocol.Event) {
			switch ev.Type {
			case protocol.EventAnswerToken:
				streamed = true
				fmt.Print(ev.Token)
			case protocol.EventToolCall:
				fmt.Fprintf(os.Stderr, "* %s(%s)\n", ev.ToolName, ev.ToolArgs)
			case protocol.EventError:
				fmt.Fprintf(os.Stderr, "! %s: %s\n", ev.Code, ev.Message)
			}
		}
	}

	resp, err := svc.Ask(ctx, &oracle.Query{
		User:         user,
		Project:      project,
		Question:     question,
		SourceFilter: filter,
		Explain:      explain,
		Sink:         sink,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if streamed {
		fmt.Println()
	} else {
		fmt.Println(resp.Answer)
	}

	if len(resp.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range resp.Citations {
			fmt.Printf("  [%s] %s\n", c.SourceType, c.SourcePath)
		}
	}
	if resp.Partial {
		fmt.Fprintln(os.Stderr, "Note: answer is partial, the reasoning limit was reached.")
	}
	if resp.CompressionFellBack {
		fmt.Fprintln(os.Stderr, "Note: conversation history was truncated to stay within budget.")
	}

	if explain {
		printTrace(resp)
	}
}

func printTrace(resp *oracle.Response) {
	fmt.Fprintf(os.Stderr, "\n--- explain ---\nquery type: %s\n", resp.QueryType)
	if resp.Trace != nil {
		for _, p := range resp.Trace.Paths {
			status := fmt.Sprintf("%d results", len(p.Results))
			if p.Unavailable {
				status = "unavailable: " + p.Err
			}
			fmt.Fprintf(os.Stderr, "  %-16s %s (%dms)\n", p.Method, status, p.DurationMS)
		}
		fmt.Fprintf(os.Stderr, "merged %d, deduped %d, reranked %v\n",
			resp.Trace.Merged, resp.Trace.Deduped, resp.Trace.Reranked)
	}
	if len(resp.Spans) > 0 {
		data, _ := json.MarshalIndent(resp.Spans, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
	}
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
