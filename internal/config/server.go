package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/go-github/v59/github"
	"github.com/kelseyhightower/envconfig"
	"github.com/offgrid-updates/update-server/internal/storage"
	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"
)

const (
	StorageBackendFS = "fs"
	StorageBackendS3 = "s3"
)

type ServerConfig struct {
	Stage       string `envconfig:"STAGE" default:"dev"`
	ProjectID   string `envconfig:"GOOGLE_CLOUD_PROJECT_ID" default:"plugin-update-server"`
	Port        string `envconfig:"PORT" default:"8080"`
	BindAddress string `envconfig:"BIND_ADDRESS"`
	// PublicURL overrides the base URL derived from the request.
	PublicURL      string `envconfig:"PUBLIC_URL"`
	ProfileBaseURL string `envconfig:"PROFILE_BASE_URL" default:"https://profiles.wordpress.org/"`

	StorageBackend      string `envconfig:"STORAGE_BACKEND" default:"fs"`
	DataDir             string `envconfig:"DATA_DIR" default:"."`
	S3Bucket            string `envconfig:"S3_BUCKET"`
	S3Prefix            string `envconfig:"S3_PREFIX"`
	S3Endpoint          string `envconfig:"S3_ENDPOINT"`
	S3AccessKeyID       string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey   string `envconfig:"S3_SECRET_ACCESS_KEY"`
	CloudflareAccountID string `envconfig:"CLOUDFLARE_ACCOUNT_ID"`

	AdminAccessToken string `envconfig:"ADMIN_ACCESS_TOKEN"`
	GitHubToken      string `envconfig:"GITHUB_TOKEN"`
	// GitHubSources maps plugin stubs to GitHub repositories, e.g.
	// "my-plugin:acme/my-plugin,other:acme/other".
	GitHubSources map[string]string `envconfig:"GITHUB_SOURCES"`
	// ImportSchedule is a cron expression for syncing all GitHub sources,
	// e.g. "@hourly". Empty disables the sync.
	ImportSchedule string `envconfig:"IMPORT_SCHEDULE"`

	Version        string
	DisableMetrics bool `envconfig:"DISABLE_METRICS"`
}

func NewServerConfigFromEnv() (*ServerConfig, error) {
	var sCfg ServerConfig
	err := envconfig.Process("", &sCfg)
	if err != nil {
		return nil, err
	}
	if err := sCfg.Validate(); err != nil {
		return nil, err
	}
	return &sCfg, nil
}

func (s *ServerConfig) Validate() error {
	switch s.StorageBackend {
	case StorageBackendFS:
		if s.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required for the fs storage backend")
		}
	case StorageBackendS3:
		if s.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
		if s.S3Endpoint == "" && s.CloudflareAccountID == "" {
			return fmt.Errorf("S3_ENDPOINT or CLOUDFLARE_ACCOUNT_ID is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", s.StorageBackend)
	}
	for stub, repo := range s.GitHubSources {
		if _, _, ok := strings.Cut(repo, "/"); !ok {
			return fmt.Errorf("invalid GitHub repository %q for plugin %s", repo, stub)
		}
	}
	if s.ImportSchedule != "" {
		if _, err := cron.ParseStandard(s.ImportSchedule); err != nil {
			return fmt.Errorf("invalid IMPORT_SCHEDULE: %w", err)
		}
	}
	return nil
}

func (s *ServerConfig) GetServerAddr() string {
	return s.BindAddress + ":" + s.Port
}

func (s *ServerConfig) CreateGitHubClient() *github.Client {
	if s.GitHubToken == "" {
		return github.NewClient(nil)
	}
	oauthClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.GitHubToken}))
	return github.NewClient(oauthClient)
}

func (s *ServerConfig) getS3Endpoint() string {
	if s.S3Endpoint != "" {
		return s.S3Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.CloudflareAccountID)
}

func (s *ServerConfig) s3EndpointResolver(_, _ string, _ ...interface{}) (aws.Endpoint, error) {
	return aws.Endpoint{
		URL:               s.getS3Endpoint(),
		HostnameImmutable: true,
	}, nil
}

func (s *ServerConfig) CreateS3Client() (*s3.Client, error) {
	staticCredentialsProvider := credentials.NewStaticCredentialsProvider(
		s.S3AccessKeyID,
		s.S3SecretAccessKey,
		"",
	)
	s3Cfg, err := awsConfig.LoadDefaultConfig(context.TODO(),
		awsConfig.WithRegion("auto"),
		awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(s.s3EndpointResolver)),
		awsConfig.WithCredentialsProvider(staticCredentialsProvider),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(s3Cfg), nil
}

func (s *ServerConfig) CreateStore() (storage.Store, error) {
	if s.StorageBackend == StorageBackendS3 {
		client, err := s.CreateS3Client()
		if err != nil {
			return nil, err
		}
		return storage.NewS3(client, s.S3Bucket, s.S3Prefix), nil
	}
	return storage.NewFileSystem(s.DataDir), nil
}

// GetGitHubRepo returns the repository configured for the plugin stub.
func (s *ServerConfig) GetGitHubRepo(stub string) (string, bool) {
	repo, ok := s.GitHubSources[stub]
	return repo, ok
}
