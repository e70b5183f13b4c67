package cmd

import (
	"errors"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/interview-coach/internal/ai/gemini"
	"github.com/spigell/interview-coach/internal/ai/openai"
	"github.com/spigell/interview-coach/internal/capture/google"
)

const (
	app       = "interview-coach"
	envPrefix = "INTERVIEW_COACH"

	defaultSessionsDir = ".interview-coach"
)

type Config struct {
	SessionsDir   string `mapstructure:"sessions-dir"`
	Role          string `mapstructure:"role"`
	Questions     int    `mapstructure:"questions"`
	FallbacksFile string `mapstructure:"fallbacks-file"`

	Evaluation *EvaluationConfig `mapstructure:"evaluation"`
	AI         *AIConfig         `mapstructure:"ai"`
	Speech     *SpeechConfig     `mapstructure:"speech"`
}

type EvaluationConfig struct {
	MinDelay     time.Duration `mapstructure:"min-delay"`
	CodeKeywords []string      `mapstructure:"code-keywords"`
}

type AIConfig struct {
	Provider              string        `mapstructure:"provider"`
	DisabledCleaningSteps []string      `mapstructure:"disabled-cleaning-steps"`
	MaxLogLength          int           `mapstructure:"max-log-length"`
	Gemini                *GeminiConfig `mapstructure:"gemini"`
	OpenAI                *OpenAIConfig `mapstructure:"openai"`
}

type GeminiConfig struct {
	gemini.Config `mapstructure:",squash"`
	APIKeyFile    string `mapstructure:"api-key-file"`
}

type OpenAIConfig struct {
	openai.Config `mapstructure:",squash"`
	APIKeyFile    string `mapstructure:"api-key-file"`
}

type SpeechConfig struct {
	// Recorder prints raw LINEAR16 mono audio to stdout, e.g.
	// ["arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "raw"].
	Recorder []string `mapstructure:"recorder"`
	// Speaker reads text aloud, e.g. ["espeak", "{text}"].
	Speaker      []string      `mapstructure:"speaker"`
	RestartDelay time.Duration `mapstructure:"restart-delay"`
	Google       google.Config `mapstructure:"google"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "interview-coach runs spoken mock interviews generated from your resume and a job description",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is interview-coach.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	viper.SetDefault("sessions-dir", defaultSessionsDir)
}

func initConfig() {
	// version needs no configuration.
	if versionCmd.CalledAs() != "" {
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// An explicit config must exist; the default one is optional.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		config = &Config{}
	}
	if config.Evaluation == nil {
		config.Evaluation = &EvaluationConfig{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}

	return config, nil
}
