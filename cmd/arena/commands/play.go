package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/devsec-arena/arena/pkg/arena"
	"github.com/devsec-arena/arena/pkg/domain"
	"github.com/devsec-arena/arena/pkg/progress"
	"github.com/devsec-arena/arena/pkg/session"
	"github.com/devsec-arena/arena/pkg/telemetry"
)

func newPlayCommand() *cobra.Command {
	var (
		domainID    string
		challengeID string
	)

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play challenges interactively",
		Long: `Deploys the next uncompleted challenge and drops into a prompt:

  flag <value>   submit a flag for validation
  hint           take a hint (recorded against your score)
  status         show the backend's view of the challenge
  check <cmd>    ask the safety guard about a command
  skip           abandon this challenge and move on
  quit           clean up and exit

Progress resumes where you left off.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)
			confirmer := arena.ConfirmerFunc(func(message string) bool {
				fmt.Printf("%s\nProceed anyway? [y/N] ", message)
				answer, _ := reader.ReadString('\n')
				return strings.TrimSpace(strings.ToLower(answer)) == "y"
			})

			settings, logger, registry, err := setup(domain.WithConfirmer(confirmer))
			if err != nil {
				return err
			}
			defer registry.Close()

			d, err := pickDomain(registry, domainID)
			if err != nil {
				return err
			}
			// Re-discover levels when challenge content changes on disk.
			if err := d.Watch(); err != nil {
				logger.Warn().Err(err).Msg("content watcher unavailable")
			}

			if err := settings.EnsureLedgerDir(); err != nil {
				return err
			}
			tracker := progress.Open(cmd.Context(), settings.ProgressDB, logger)
			defer tracker.Close()

			telemetryCfg, err := telemetry.LoadConfig()
			if err != nil {
				return err
			}
			tracer, err := telemetry.NewTracer(telemetryCfg.TracingEnabled, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer tracer.Shutdown(context.Background())

			metrics := telemetry.NewMetrics(telemetryCfg.MetricsEnabled)
			if handler := metrics.Handler(); handler != nil {
				go func() {
					if err := http.ListenAndServe(telemetryCfg.MetricsAddr, handler); err != nil {
						logger.Warn().Err(err).Msg("metrics endpoint stopped")
					}
				}()
			}

			engine := session.NewEngine(
				d.Config().ID,
				d.Deployer(), d.Validator(), d.Guard(), tracker,
				logger,
				session.WithMetrics(metrics),
				session.WithTracer(tracer),
			)
			// The deferred cleanup also covers SIGINT: context cancellation
			// unwinds the loop and Quit runs with a fresh context.
			defer engine.Quit(context.Background())

			challenges, err := d.AllChallenges()
			if err != nil {
				return err
			}
			if len(challenges) == 0 {
				return fmt.Errorf("domain %q has no playable challenges", d.Config().ID)
			}

			for {
				challenge, err := nextChallenge(cmd.Context(), engine, challenges, challengeID)
				if err != nil {
					return err
				}
				if challenge == nil {
					fmt.Println("All challenges completed. Well done.")
					return nil
				}
				challengeID = "" // explicit selection applies to the first round only

				done, err := playOne(cmd.Context(), engine, challenge, reader)
				if err != nil || done {
					return err
				}
			}
		},
	}

	cmd.Flags().StringVarP(&domainID, "domain", "d", "", "domain to play")
	cmd.Flags().StringVar(&challengeID, "challenge", "", "start at a specific challenge id")
	return cmd
}

func nextChallenge(ctx context.Context, engine *session.Engine, challenges []arena.Challenge, explicit string) (*arena.Challenge, error) {
	if explicit != "" {
		for i := range challenges {
			if challenges[i].ID == explicit {
				return &challenges[i], nil
			}
		}
		return nil, fmt.Errorf("unknown challenge %q", explicit)
	}
	return engine.FirstUncompleted(ctx, challenges)
}

// playOne runs a single challenge to completion, skip, or quit. The
// returned bool is true when the player wants to stop playing.
func playOne(ctx context.Context, engine *session.Engine, challenge *arena.Challenge, reader *bufio.Reader) (bool, error) {
	fmt.Printf("\n=== %s (%d XP, %s) ===\n", challenge.Name, challenge.XP, challenge.Difficulty)
	renderMarkdownFile(filepath.Join(challenge.Path, "briefing.md"))

	fmt.Println("deploying challenge environment...")
	if err := engine.Select(ctx, challenge); err != nil {
		if arena.HasCode(err, arena.ErrCodeBackendUnavailable) {
			return true, fmt.Errorf("backend unavailable: %w (try `arena doctor`)", err)
		}
		return true, err
	}
	fmt.Println("environment ready. Type `hint`, `flag <value>`, or `quit`.")

	for {
		fmt.Print("arena> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return true, engine.Quit(ctx)
			}
			return true, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "flag":
			if len(fields) < 2 {
				fmt.Println("usage: flag <value>")
				continue
			}
			output, err := engine.SubmitFlag(ctx, fields[1])
			if err != nil {
				if arena.HasCode(err, arena.ErrCodeValidationFailed) {
					fmt.Printf("not yet: %s\n", output)
					continue
				}
				return true, err
			}
			fmt.Printf("correct! +%d XP\n", challenge.XP)
			renderMarkdownFile(filepath.Join(challenge.Path, "debrief.md"))
			return false, nil

		case "hint":
			hint, err := engine.Hint(ctx)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("hint %d: %s\n", engine.HintsUsed(), hint)

		case "status":
			status, err := engine.StatusCheck(ctx)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println(status.Message)
			for name, detail := range status.Details {
				fmt.Printf("  %s: %v\n", name, detail)
			}

		case "check":
			if len(fields) < 2 {
				fmt.Println("usage: check <command>")
				continue
			}
			verdict := engine.CheckCommand(strings.Join(fields[1:], " "), true)
			if verdict.Allowed {
				fmt.Printf("allowed (%s)\n", verdict.Severity)
			} else {
				fmt.Printf("blocked (%s): %s\n", verdict.Severity, verdict.Message)
				if verdict.Suggestion != "" {
					fmt.Printf("  suggestion: %s\n", verdict.Suggestion)
				}
			}

		case "skip":
			if err := engine.Skip(ctx); err != nil {
				return true, err
			}
			fmt.Println("challenge skipped, no XP awarded")
			return false, nil

		case "quit", "exit":
			return true, engine.Quit(ctx)

		default:
			fmt.Println("commands: flag <value>, hint, status, check <cmd>, skip, quit")
		}

		if ctx.Err() != nil {
			return true, engine.Quit(context.Background())
		}
	}
}

// renderMarkdownFile pretty-prints a markdown file when it exists.
// Missing briefings are fine; plain text is the fallback when the
// renderer cannot start.
func renderMarkdownFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		fmt.Println(string(data))
		return
	}
	out, err := renderer.Render(string(data))
	if err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Print(out)
}
