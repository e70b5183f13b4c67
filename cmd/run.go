package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/interview-coach/internal/ai"
	"github.com/spigell/interview-coach/internal/evaluation"
	"github.com/spigell/interview-coach/internal/interview"
	"github.com/spigell/interview-coach/internal/logger"
	"github.com/spigell/interview-coach/internal/session"
	"github.com/spigell/interview-coach/internal/store"
	"github.com/spigell/interview-coach/internal/utils"
)

const (
	PromptRecord   = "Record answer"
	PromptType     = "Type answer"
	PromptReplay   = "Replay question"
	PromptMute     = "Mute question audio"
	PromptUnmute   = "Unmute question audio"
	PromptNext     = "Next question"
	PromptFinish   = "Finish interview"
	PromptRetry    = "Retry"
	PromptQuit     = "Quit"
	processingTick = 700 * time.Millisecond
)

var errExit = errors.New("exit requested")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a mock interview",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
		if err != nil {
			log.Fatalf("creating a logger: %s", err)
		}

		if err := run(cmd, logger); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("resume", "r", "", "file with your resume text")
	runCmd.Flags().StringP("job", "J", "", "file with the job description text")
	runCmd.Flags().StringP("session", "s", "", "continue a saved session by id from its first unanswered question")
}

// run is the interview loop for the cli.
func run(cmd *cobra.Command, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	config, err := getConfig()
	if err != nil {
		return fmt.Errorf("getting a config: %w", err)
	}

	logger.Info("starting the interview-coach", zap.String("version", version))

	dir, err := store.NewDir(config.SessionsDir)
	if err != nil {
		return err
	}

	sessionID, _ := cmd.Flags().GetString("session")
	kv, scope, err := openScope(dir, sessionID)
	if err != nil {
		return err
	}

	if err := storePrerequisites(cmd, kv); err != nil {
		return err
	}

	fallbacks, err := loadFallbacks(config.FallbacksFile)
	if err != nil {
		return err
	}

	provider := newProvider(ctx, config.AI, logger)
	failOpen := ai.NewFailOpen(provider, fallbacks, logger)

	var evaluator evaluation.Evaluator = unavailable{}
	if provider != nil {
		evaluator = provider
	}

	controller, err := interview.New(interview.Options{
		Store:         kv,
		Questions:     failOpen,
		Evaluator:     evaluator,
		Coordinator:   newCoordinator(config.Speech, logger),
		Classifier:    evaluation.KeywordClassifier{Extra: config.Evaluation.CodeKeywords},
		MinDelay:      config.Evaluation.MinDelay,
		Role:          config.Role,
		Fallback:      session.Evaluation(fallbacks.Answer),
		QuestionCount: config.Questions,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer controller.Close()

	if err := startInterview(ctx, controller, strings.TrimSpace(sessionID) != "", promptRetry); err != nil {
		return err
	}

	fmt.Printf("Session %s\n", scope)
	if !controller.SpeechSupported() {
		fmt.Println("Speech recognition is not configured, answers are typed.")
	}

	if err := interviewLoop(ctx, controller, logger); err != nil && !errors.Is(err, errExit) {
		return err
	}

	if err := controller.Finish(); err != nil {
		return err
	}
	if err := dir.MarkLatest(scope); err != nil {
		logger.Warn("marking latest session", zap.Error(err))
	}

	resume, jobDescription, _ := store.LoadPrerequisites(kv)
	return showFeedback(ctx, kv, resume, jobDescription, config.Role, failOpen, logger)
}

type starter interface {
	Begin(ctx context.Context) error
	Resume() error
}

// startInterview continues the saved interview when asked to and one exists,
// otherwise it generates a new one. An empty question set blocks until the
// user retries or quits.
func startInterview(ctx context.Context, controller starter, saved bool, retry func() bool) error {
	if saved {
		err := controller.Resume()
		if err == nil {
			fmt.Println("Continuing the saved interview.")
			return nil
		}
		if !errors.Is(err, store.ErrNoSnapshot) && !errors.Is(err, session.ErrEmptyQuestionSet) {
			return err
		}
	}

	for {
		fmt.Println("Preparing your interview questions...")
		err := controller.Begin(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, store.ErrMissingPrerequisite):
			return fmt.Errorf("%w: pass --resume and --job", err)
		case !errors.Is(err, session.ErrEmptyQuestionSet):
			return err
		}

		fmt.Println("No interview questions could be prepared.")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retry() {
			return errExit
		}
	}
}

func promptRetry() bool {
	prompt := promptui.Select{Label: "What next?", Items: []string{PromptRetry, PromptQuit}}
	_, action, err := prompt.Run()
	return err == nil && action == PromptRetry
}

func storePrerequisites(cmd *cobra.Command, kv store.KV) error {
	resumeFile, _ := cmd.Flags().GetString("resume")
	jobFile, _ := cmd.Flags().GetString("job")

	if resumeFile == "" && jobFile == "" {
		return nil
	}

	resume, err := os.ReadFile(resumeFile)
	if err != nil {
		return fmt.Errorf("reading resume: %w", err)
	}
	job, err := os.ReadFile(jobFile)
	if err != nil {
		return fmt.Errorf("reading job description: %w", err)
	}

	return store.SavePrerequisites(kv, string(resume), string(job))
}

func interviewLoop(ctx context.Context, controller *interview.Controller, logger *zap.Logger) error {
	total := controller.Session().Len()

	for !controller.Complete() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		index, question, ok := controller.Current()
		if !ok {
			return nil
		}

		fmt.Printf("\nQuestion %d of %d\n%s\n\n", index+1, total, question)
		if err := controller.ReadQuestion(); err != nil {
			logger.Warn("reading question aloud", zap.Error(err))
		}

		if err := answerLoop(ctx, controller, logger); err != nil {
			return err
		}
	}

	return nil
}

// answerLoop handles one question until the user moves on.
func answerLoop(ctx context.Context, controller *interview.Controller, logger *zap.Logger) error {
	for {
		if controller.Status().NeedsCodeInput {
			if err := submitCode(ctx, controller); err != nil {
				return err
			}
			continue
		}

		items := make([]string, 0, 6)
		if controller.SpeechSupported() {
			items = append(items, PromptRecord)
		}
		items = append(items, PromptType, PromptReplay)
		if controller.Capture().Muted {
			items = append(items, PromptUnmute)
		} else {
			items = append(items, PromptMute)
		}
		items = append(items, PromptNext, PromptFinish)

		actionPrompt := promptui.Select{Label: "What next?", Items: items}
		_, action, err := actionPrompt.Run()
		if err != nil {
			return errExit
		}

		switch action {
		case PromptRecord:
			if err := recordAnswer(ctx, controller); err != nil {
				return err
			}
		case PromptType:
			answer, err := (&promptui.Prompt{Label: "Your answer"}).Run()
			if err != nil {
				return errExit
			}
			if err := showResult(waitForResult(ctx, controller, func() (evaluation.Result, error) {
				return controller.SubmitTyped(ctx, answer)
			})); err != nil {
				return err
			}
		case PromptReplay:
			if err := controller.ReplayQuestion(); err != nil {
				logger.Warn("replaying question", zap.Error(err))
			}
		case PromptMute, PromptUnmute:
			controller.ToggleMute()
		case PromptNext:
			return controller.Next()
		case PromptFinish:
			return errExit
		default:
			return fmt.Errorf("invalid action: %s", action)
		}

		if controller.Complete() {
			return nil
		}
	}
}

func recordAnswer(ctx context.Context, controller *interview.Controller) error {
	if err := controller.StartRecording(ctx); err != nil {
		fmt.Printf("Could not start recording: %v\n", err)
		return nil
	}

	stopPrompt := promptui.Prompt{Label: "Recording, press Enter to stop", AllowEdit: false}
	_, _ = stopPrompt.Run()

	if state := controller.Capture(); state.Elapsed > 0 {
		fmt.Printf("Recorded %s\n", state.Elapsed.Round(time.Second))
	}

	return showResult(waitForResult(ctx, controller, func() (evaluation.Result, error) {
		return controller.FinishRecording(ctx)
	}))
}

func submitCode(ctx context.Context, controller *interview.Controller) error {
	fmt.Println("This question expects code. Please enter your solution.")

	code, err := (&promptui.Prompt{Label: "Code"}).Run()
	if err != nil {
		return errExit
	}

	return showResult(waitForResult(ctx, controller, func() (evaluation.Result, error) {
		return controller.SubmitCode(ctx, code)
	}))
}

// waitForResult runs submit and prints rotating processing messages while
// the answer is being evaluated.
func waitForResult(ctx context.Context, controller *interview.Controller, submit func() (evaluation.Result, error)) (evaluation.Result, error) {
	var (
		result evaluation.Result
		err    error
	)

	waitCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		result, err = submit()
	}()

	for n := 0; waitCtx.Err() == nil; n++ {
		if controller.Status().Waiting {
			fmt.Printf("  %s\n", controller.ProcessingMessage(n))
		}
		_ = utils.WaitFor(waitCtx, processingTick)
	}
	<-done

	return result, err
}

func showResult(result evaluation.Result, err error) error {
	switch {
	case errors.Is(err, evaluation.ErrNoSpeechDetected):
		fmt.Println("No speech detected, please try again.")
		return nil
	case errors.Is(err, evaluation.ErrBusy):
		fmt.Println("Still evaluating the previous answer.")
		return nil
	case err != nil:
		return err
	}

	switch result.Outcome {
	case evaluation.OutcomeNeedsCode:
		return nil
	case evaluation.OutcomeStale:
		fmt.Println("The interview moved on before this answer was scored.")
		return nil
	}

	fmt.Printf("\nScore: %d/10\n%s\n", result.Evaluation.Score, strings.TrimSpace(result.Evaluation.Feedback))
	return nil
}
