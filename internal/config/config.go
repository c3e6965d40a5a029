package config

import (
	"time"

	"github.com/spf13/viper"

	"update-runner/internal/domain"
)

// Config holds all configuration for the runner.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	EtcdEndpoints  []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout    time.Duration `mapstructure:"etcd_timeout"`
	HttpListenAddr string        `mapstructure:"http_listen_addr"`

	JobName         string        `mapstructure:"job_name"`
	RepoURL         string        `mapstructure:"repo_url"`
	Branch          string        `mapstructure:"branch"`
	Workdir         string        `mapstructure:"workdir"`
	Python          string        `mapstructure:"python"`
	Requirements    string        `mapstructure:"requirements"`
	CheckerScript   string        `mapstructure:"checker_script"`
	CollectorScript string        `mapstructure:"collector_script"`
	Period          string        `mapstructure:"period"`
	Schedule        string        `mapstructure:"schedule"`
	CommitAuthor    string        `mapstructure:"commit_author"`
	CommitEmail     string        `mapstructure:"commit_email"`
	CommitMessage   string        `mapstructure:"commit_message"`
	StepTimeout     time.Duration `mapstructure:"step_timeout"`

	// PushTokenEnv names the environment variable holding the short-lived
	// token used to authenticate the push. The token itself never appears in
	// the config file.
	PushTokenEnv string `mapstructure:"push_token_env"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("etcd_timeout", "5s")
	viper.SetDefault("http_listen_addr", ":8080")
	viper.SetDefault("job_name", "quarterly-update")
	viper.SetDefault("branch", "main")
	viper.SetDefault("workdir", "./workdir")
	viper.SetDefault("python", "python3")
	viper.SetDefault("requirements", "requirements.txt")
	viper.SetDefault("checker_script", "source_format_checker.py")
	viper.SetDefault("collector_script", "scrape_financial_data.py")
	viper.SetDefault("period", string(domain.PeriodQuarterly))
	viper.SetDefault("commit_author", "GitHub Action")
	viper.SetDefault("commit_email", "action@github.com")
	viper.SetDefault("commit_message", "updated logs")
	viper.SetDefault("step_timeout", "30m")
	viper.SetDefault("push_token_env", "GIT_PUSH_TOKEN")

	// Set config file details
	viper.SetConfigName("config")    // name of config file (without extension)
	viper.SetConfigType("yaml")      // or "json", "toml"
	viper.AddConfigPath("./configs") // path to look for the config file in
	viper.AddConfigPath(".")         // optionally look for config in the working directory

	// Read environment variables
	viper.AutomaticEnv()

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; rely on defaults and env vars
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Job builds the validated job definition from the loaded configuration.
func (c *Config) Job() (*domain.UpdateJob, error) {
	job := &domain.UpdateJob{
		Name:            c.JobName,
		RepoURL:         c.RepoURL,
		Branch:          c.Branch,
		Workdir:         c.Workdir,
		Python:          c.Python,
		Requirements:    c.Requirements,
		CheckerScript:   c.CheckerScript,
		CollectorScript: c.CollectorScript,
		Period:          domain.Period(c.Period),
		Schedule:        c.Schedule,
		CommitAuthor:    c.CommitAuthor,
		CommitEmail:     c.CommitEmail,
		CommitMessage:   c.CommitMessage,
		StepTimeout:     c.StepTimeout,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}
