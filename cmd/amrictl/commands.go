package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srujansrutha/amri/internal/httpapi"
	"github.com/srujansrutha/amri/internal/state"
	"github.com/srujansrutha/amri/internal/vectordb"
)

type globalOptions struct {
	server  string
	token   string
	output  string
	timeout time.Duration
}

func (o *globalOptions) client() *apiClient {
	return newAPIClient(o.server, o.token, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "amrictl",
		Short:         "Start, resume and inspect research threads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "yaml" && opts.output != "json" {
				return fmt.Errorf("--output must be yaml or json, got %q", opts.output)
			}
			return nil
		},
	}

	server := os.Getenv("AMRI_SERVER")
	if server == "" {
		server = "http://localhost:8000"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "orchestrator base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("API_TOKEN"), "bearer token for the API")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "yaml", "output format: yaml or json")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "request timeout")

	root.AddCommand(
		newResearchCmd(opts),
		newResumeCmd(opts),
		newGetCmd(opts),
		newIngestCmd(opts),
	)
	return root
}

func newResearchCmd(opts *globalOptions) *cobra.Command {
	var hitl bool
	cmd := &cobra.Command{
		Use:   "research <topic>",
		Short: "Start a research thread",
		Long: `Start a research thread and wait for it to finish or pause.

Examples:
  amrictl research "solid state batteries"
  amrictl research "fusion startups" --hitl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.ResearchResponse
			req := httpapi.ResearchRequest{Topic: args[0], EnableHITL: hitl}
			if err := opts.client().do(cmd.Context(), "POST", "/research", req, &resp); err != nil {
				return err
			}
			if paused(resp) {
				fmt.Fprintf(cmd.ErrOrStderr(), "paused before %v; continue with: amrictl resume %s --feedback \"...\"\n",
					resp.PendingSteps, resp.ThreadID)
			}
			return printResponse(cmd.OutOrStdout(), opts.output, resp)
		},
	}
	cmd.Flags().BoolVar(&hitl, "hitl", false, "pause for human review before writing")
	return cmd
}

func newResumeCmd(opts *globalOptions) *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "resume <thread-id>",
		Short: "Resume a paused thread with reviewer feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.ResearchResponse
			path := "/research/resume/" + url.PathEscape(args[0])
			if err := opts.client().do(cmd.Context(), "POST", path, httpapi.ResumeRequest{Feedback: feedback}, &resp); err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), opts.output, resp)
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "reviewer feedback passed to the writer")
	return cmd
}

func newGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <thread-id>",
		Short: "Show the stored state of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.ResearchResponse
			if err := opts.client().do(cmd.Context(), "GET", "/research/"+url.PathEscape(args[0]), nil, &resp); err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), opts.output, resp)
		},
	}
}

func newIngestCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.yaml>",
		Short: "Add documents to the retrieval collection",
		Long: `Add documents to the retrieval collection.

The file is a YAML list of documents:

  - content: "Perovskite cells reached 33% efficiency in tandem."
    source: notes/solar.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readDocuments(args[0])
			if err != nil {
				return err
			}
			var resp map[string]any
			if err := opts.client().do(cmd.Context(), "POST", "/documents", httpapi.DocumentsRequest{Documents: docs}, &resp); err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), opts.output, resp)
		},
	}
}

func readDocuments(path string) ([]vectordb.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var docs []vectordb.Document
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s contains no documents", path)
	}
	return docs, nil
}

func printResponse(w io.Writer, format string, v any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	// Route through JSON so the yaml keys match the API field names.
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

// paused reports whether a response is waiting for review.
func paused(resp httpapi.ResearchResponse) bool {
	return resp.Status == state.StatusPaused
}
