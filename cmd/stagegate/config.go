package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/eteran/stagegate/pkg/multipart"
)

const envPrefix = "STAGEGATE"

// Settings is the resolved configuration of one gateway process.
type Settings struct {
	Listen        string
	MetricsListen string
	LogLevel      string
	DataDir       string

	Staging              string
	StagingBucket        string
	StagingEndpoint      string
	StagingRegion        string
	StagingAccessKey     string
	StagingSecretKey     string
	StagingInsecure      bool
	StagingPathStyle     bool
	StagingPageSize      int
	AzureAccount         string
	AzureAccountKey      string
	AzureConnection      string
	AzureCreateContainer bool

	AccessRegistry         string
	SecretRegistry         string
	SecretsManagerEndpoint string
	BucketPolicy           string
	StaticAccessKey        string
	StaticSecretKey        string

	Retention     time.Duration
	SweepInterval time.Duration
	ShutdownGrace time.Duration
}

var flagNames = []string{
	"config", "listen", "metrics-listen", "log-level", "data-dir",
	"staging", "staging-bucket", "staging-endpoint", "staging-region", "staging-access-key", "staging-secret-key",
	"staging-insecure", "staging-path-style", "staging-page-size",
	"azure-account", "azure-account-key", "azure-connection-string", "azure-create-container",
	"access-registry", "secret-registry", "secretsmanager-endpoint", "bucket-policy",
	"static-access-key", "static-secret-key",
	"retention", "sweep-interval", "shutdown-grace",
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML config file")
	flags.String("listen", ":9000", "S3 API listen address")
	flags.String("metrics-listen", ":9100", "Prometheus metrics listen address (empty disables)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("data-dir", "./data", "directory receiving completed uploads")

	flags.String("staging", "memory", "staging backend: memory, s3, aws or azure")
	flags.String("staging-bucket", "multipart-uploads", "bucket or container holding staged parts")
	flags.String("staging-endpoint", "", "staging endpoint (host:port or URL)")
	flags.String("staging-region", "us-east-1", "staging region")
	flags.String("staging-access-key", "", "staging access key")
	flags.String("staging-secret-key", "", "staging secret key")
	flags.Bool("staging-insecure", false, "use plain HTTP for the staging endpoint")
	flags.Bool("staging-path-style", true, "use path-style bucket addressing")
	flags.Int("staging-page-size", 0, "keys per staging listing page (0 uses the backend default)")
	flags.String("azure-account", "", "Azure storage account")
	flags.String("azure-account-key", "", "Azure storage account key")
	flags.String("azure-connection-string", "", "Azure storage connection string")
	flags.Bool("azure-create-container", false, "create the staging container if missing")

	flags.String("access-registry", "memory://", "access key registry: memory://, sqlite:///path or secretsmanager://region/prefix")
	flags.String("secret-registry", "", "secret key registry (defaults to --access-registry)")
	flags.String("secretsmanager-endpoint", "", "override the Secrets Manager endpoint")
	flags.String("bucket-policy", "authenticated", "bucket write policy: authenticated or registry")
	flags.String("static-access-key", "", "seed an enabled access key into memory or sqlite registries")
	flags.String("static-secret-key", "", "secret for --static-access-key")

	flags.Duration("retention", multipart.DefaultRetention, "age after which open uploads are swept")
	flags.Duration("sweep-interval", time.Hour, "interval between cleanup sweeps")
	flags.Duration("shutdown-grace", 30*time.Second, "time allowed for in-flight requests on shutdown")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, name := range flagNames {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("flag %q not found", name)
		}
		if err := v.BindPFlag(name, flag); err != nil {
			return err
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// loadConfigFile reads --config if one was given.
func loadConfigFile(v *viper.Viper) (string, error) {
	cfgPath := strings.TrimSpace(v.GetString("config"))
	if cfgPath == "" {
		return "", nil
	}

	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", abs)
	}

	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", abs, err)
	}
	return abs, nil
}

func loadSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		Listen:        v.GetString("listen"),
		MetricsListen: v.GetString("metrics-listen"),
		LogLevel:      v.GetString("log-level"),
		DataDir:       v.GetString("data-dir"),

		Staging:              strings.ToLower(strings.TrimSpace(v.GetString("staging"))),
		StagingBucket:        v.GetString("staging-bucket"),
		StagingEndpoint:      v.GetString("staging-endpoint"),
		StagingRegion:        v.GetString("staging-region"),
		StagingAccessKey:     v.GetString("staging-access-key"),
		StagingSecretKey:     v.GetString("staging-secret-key"),
		StagingInsecure:      v.GetBool("staging-insecure"),
		StagingPathStyle:     v.GetBool("staging-path-style"),
		StagingPageSize:      v.GetInt("staging-page-size"),
		AzureAccount:         v.GetString("azure-account"),
		AzureAccountKey:      v.GetString("azure-account-key"),
		AzureConnection:      v.GetString("azure-connection-string"),
		AzureCreateContainer: v.GetBool("azure-create-container"),

		AccessRegistry:         v.GetString("access-registry"),
		SecretRegistry:         v.GetString("secret-registry"),
		SecretsManagerEndpoint: v.GetString("secretsmanager-endpoint"),
		BucketPolicy:           strings.ToLower(strings.TrimSpace(v.GetString("bucket-policy"))),
		StaticAccessKey:        v.GetString("static-access-key"),
		StaticSecretKey:        v.GetString("static-secret-key"),

		Retention:     v.GetDuration("retention"),
		SweepInterval: v.GetDuration("sweep-interval"),
		ShutdownGrace: v.GetDuration("shutdown-grace"),
	}
	if s.SecretRegistry == "" {
		s.SecretRegistry = s.AccessRegistry
	}

	switch {
	case s.Listen == "":
		return s, fmt.Errorf("--listen is required")
	case s.Retention <= 0:
		return s, fmt.Errorf("--retention must be positive, got %s", s.Retention)
	case s.SweepInterval <= 0:
		return s, fmt.Errorf("--sweep-interval must be positive, got %s", s.SweepInterval)
	case (s.StaticAccessKey == "") != (s.StaticSecretKey == ""):
		return s, fmt.Errorf("--static-access-key and --static-secret-key must be set together")
	}
	return s, nil
}
