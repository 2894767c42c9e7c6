package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragkit/ragkit-go/internal/chat"
	"github.com/ragkit/ragkit-go/internal/logging"
	"github.com/ragkit/ragkit-go/internal/rag"
)

// NewAskCmd constructs the `ragkit ask` command, which answers a single
// question from the terminal, streaming the answer to stdout followed by the
// source-attribution block.
func NewAskCmd() *cobra.Command {
	var topK int
	var floor float64
	var hyde, crag, hybrid, mmr bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question grounded in the document collection",
		Long: `Ask a one-shot natural language question.

The question is expanded, matched against the Qdrant collection, and the
answer streams to stdout. When sources were retrieved, a JSON attribution
block follows the answer.

Examples:
  ragkit ask "what does the retry policy cover?"
  ragkit ask --hyde --crag "how are invoices reconciled?"
  ragkit ask --top-k 8 "which regions support failover?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			stk, err := buildStack(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer stk.close()

			coordinator, err := chat.New(&chat.Config{
				Pipeline:  stk.pipeline,
				Streamer:  stk.llm,
				Generator: stk.llm,
			})
			if err != nil {
				return fmt.Errorf("ask: failed to initialise coordinator: %w", err)
			}

			req := chat.Request{
				Turns:           []chat.Turn{{Role: chat.RoleUser, Content: args[0]}},
				TopK:            topK,
				SimilarityFloor: floor,
				Flags: rag.Flags{
					HyDE:   hyde,
					CRAG:   crag,
					Hybrid: hybrid,
					MMR:    mmr,
				},
			}

			em := chat.NewPlainEmitter(os.Stdout, nil)
			if _, err := coordinator.Answer(ctx, req, em); err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "Per-channel retrieval limit (0 = default)")
	cmd.Flags().Float64Var(&floor, "similarity-floor", 0, "Minimum raw similarity score")
	cmd.Flags().BoolVar(&hyde, "hyde", false, "Enable hypothetical-document query expansion")
	cmd.Flags().BoolVar(&crag, "crag", false, "Enable the corrective retrieval cycle")
	cmd.Flags().BoolVar(&hybrid, "hybrid", false, "Use the hybrid scoring profile")
	cmd.Flags().BoolVar(&mmr, "mmr", false, "Enable the diversity rerank")

	return cmd
}
