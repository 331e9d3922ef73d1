package ruledata

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"substitution-engine/internal/core/substitution"
	"substitution-engine/internal/infrastructure/config"
	"substitution-engine/internal/pkg/common"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// 內建規則表
//
//go:embed default_rules.yaml
var defaultRules []byte

const s3Scheme = "s3"

// ruleFile 規則檔頂層結構
type ruleFile struct {
	Rules []substitution.RuleEntry `yaml:"rules"`
}

// ObjectGetter S3 讀取能力，*s3.Client 即符合
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader 載入靜態規則：內建、本機檔案或 s3://bucket/key
type Loader struct {
	cfg      config.SubstitutionConfig
	s3Client ObjectGetter
}

// NewLoader 創建規則載入器；S3 client 於第一次需要時才建立
func NewLoader(cfg config.SubstitutionConfig) *Loader {
	return &Loader{cfg: cfg}
}

// WithS3Client 指定 S3 client
func (l *Loader) WithS3Client(client ObjectGetter) *Loader {
	l.s3Client = client
	return l
}

// LoadTable 載入並編譯規則表
func (l *Loader) LoadTable(ctx context.Context, source string) (*substitution.StaticTable, error) {
	entries, err := l.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	table, err := substitution.NewStaticTable(entries)
	if err != nil {
		return nil, fmt.Errorf("invalid substitution rules from %s: %w", describe(source), err)
	}

	common.LogInfo("靜態替代規則已載入",
		zap.String("source", describe(source)),
		zap.Int("rules", table.Len()),
	)
	return table, nil
}

// Load 讀取並解析規則條目，保持檔案中的順序
func (l *Loader) Load(ctx context.Context, source string) ([]substitution.RuleEntry, error) {
	data, err := l.read(ctx, strings.TrimSpace(source))
	if err != nil {
		return nil, err
	}
	entries, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules from %s: %w", describe(source), err)
	}
	return entries, nil
}

func (l *Loader) read(ctx context.Context, source string) ([]byte, error) {
	switch {
	case source == "":
		return defaultRules, nil
	case strings.HasPrefix(source, s3Scheme+"://"):
		return l.readS3(ctx, source)
	default:
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules file: %w", err)
		}
		return data, nil
	}
}

func (l *Loader) readS3(ctx context.Context, source string) ([]byte, error) {
	bucket, key, err := parseS3URI(source)
	if err != nil {
		return nil, err
	}

	if l.s3Client == nil {
		client, err := newS3Client(ctx, l.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 client: %w", err)
		}
		l.s3Client = client
	}

	out, err := l.s3Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rules from %s: %w", source, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules from %s: %w", source, err)
	}
	return data, nil
}

func newS3Client(ctx context.Context, cfg config.SubstitutionConfig) (*s3.Client, error) {
	region := cfg.RulesS3Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.RulesS3PathStyle {
			o.UsePathStyle = true
		}
		if cfg.RulesS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.RulesS3Endpoint)
		}
	}), nil
}

// parseS3URI 解析 s3://bucket/key
func parseS3URI(source string) (string, string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 rules source %q: %w", source, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Scheme != s3Scheme || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 rules source %q: expected s3://bucket/key", source)
	}
	return u.Host, key, nil
}

// Parse 解析 YAML 規則檔，不允許未知欄位
func Parse(data []byte) ([]substitution.RuleEntry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file ruleFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("rules file is empty")
		}
		return nil, err
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("rules file has no rules")
	}
	return file.Rules, nil
}

// Default 內建規則條目
func Default() ([]substitution.RuleEntry, error) {
	return Parse(defaultRules)
}

func describe(source string) string {
	if strings.TrimSpace(source) == "" {
		return "embedded default"
	}
	return source
}
