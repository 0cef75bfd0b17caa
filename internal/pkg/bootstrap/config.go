// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"log"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config 是服务的全量配置。启动时从 YAML 文件加载一次，
// 之后通过 GetCurrentConfig 原子读取，便于将来接入 Nacos 热更新。
type Config struct {
	Service struct {
		Name string `yaml:"name"`
		Port int    `yaml:"port"`
	} `yaml:"service"`

	Infra struct {
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Mysql struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
		} `yaml:"mysql"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers        []string `yaml:"brokers"`
			IssuedTopic    string   `yaml:"issuedTopic"`
			OrderPaidTopic string   `yaml:"orderPaidTopic"`
			OrderPaidGroup string   `yaml:"orderPaidGroup"`
		} `yaml:"kafka"`
		Nacos struct {
			Enabled   bool   `yaml:"enabled"`
			Addrs     string `yaml:"addrs"`
			Namespace string `yaml:"namespace"`
			Group     string `yaml:"group"`
		} `yaml:"nacos"`
		Zookeeper struct {
			Addrs []string `yaml:"addrs"`
		} `yaml:"zookeeper"`
	} `yaml:"infra"`

	Coupon struct {
		Issue struct {
			AsyncEnabled bool `yaml:"asyncEnabled"`
			Queue        struct {
				Prefix                  string `yaml:"prefix"`
				TTLSeconds              int64  `yaml:"ttlSeconds"`
				AverageProcessingMillis int64  `yaml:"averageProcessingMillis"`
			} `yaml:"queue"`
			Stream struct {
				RequestKey string `yaml:"requestKey"`
				IssueKey   string `yaml:"issueKey"`
				Group      string `yaml:"group"`
				Consumer   string `yaml:"consumer"`
			} `yaml:"stream"`
			Worker struct {
				Enabled           bool  `yaml:"enabled"`
				PollTimeoutMillis int64 `yaml:"pollTimeoutMillis"`
				Concurrency       int   `yaml:"concurrency"`
			} `yaml:"worker"`
			Lock struct {
				Backend      string `yaml:"backend"` // redis | zookeeper
				WaitSeconds  int64  `yaml:"waitSeconds"`
				LeaseSeconds int64  `yaml:"leaseSeconds"`
			} `yaml:"lock"`
		} `yaml:"issue"`
		Template struct {
			Cache struct {
				TTLSeconds int64 `yaml:"ttlSeconds"`
			} `yaml:"cache"`
		} `yaml:"template"`
		User struct {
			Mode    string `yaml:"mode"` // stub | http
			BaseURL string `yaml:"baseURL"`
		} `yaml:"user"`
	} `yaml:"coupon"`
}

var currentConfig atomic.Pointer[Config]

// Init 加载配置文件并填充默认值。路径来自 CONFIG_PATH 环境变量，
// 默认 configs/config.yaml；文件缺失时直接使用默认配置（本地开发友好）。
func Init() {
	cfg := defaultConfig()

	path := getEnv("CONFIG_PATH", "configs/config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("⚠️ WARNING: config file %s not readable (%v), falling back to defaults", path, err)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Fatalf("FATAL: invalid config file %s: %v", path, err)
	}

	currentConfig.Store(cfg)
}

// GetCurrentConfig 返回当前生效的配置快照。
func GetCurrentConfig() *Config {
	cfg := currentConfig.Load()
	if cfg == nil {
		Init()
		cfg = currentConfig.Load()
	}
	return cfg
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Service.Name = "coupon-service"
	cfg.Service.Port = 8088
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	cfg.Infra.Mysql.Host = getEnv("MYSQL_HOST", "localhost")
	cfg.Infra.Mysql.Port = 3306
	cfg.Infra.Mysql.User = getEnv("MYSQL_USER", "root")
	cfg.Infra.Mysql.Password = getEnv("MYSQL_PASSWORD", "root")
	cfg.Infra.Mysql.Database = getEnv("MYSQL_DATABASE", "couponhub")
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Infra.Kafka.Brokers = []string{getEnv("KAFKA_BROKERS", "localhost:9092")}
	cfg.Infra.Kafka.IssuedTopic = "coupon-issued-topic"
	cfg.Infra.Kafka.OrderPaidTopic = "order-paid-topic"
	cfg.Infra.Kafka.OrderPaidGroup = "coupon-usage-group"
	cfg.Infra.Nacos.Addrs = getEnv("NACOS_SERVER_ADDRS", "localhost:8848")
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", "DEFAULT_GROUP")
	cfg.Infra.Zookeeper.Addrs = []string{getEnv("ZK_ADDRS", "localhost:2181")}

	cfg.Coupon.Issue.AsyncEnabled = true
	cfg.Coupon.Issue.Queue.Prefix = "coupon:queue-position"
	cfg.Coupon.Issue.Queue.TTLSeconds = 86400
	cfg.Coupon.Issue.Queue.AverageProcessingMillis = 50
	cfg.Coupon.Issue.Stream.RequestKey = "coupon:request-stream"
	cfg.Coupon.Issue.Stream.IssueKey = "coupon:issue-stream"
	cfg.Coupon.Issue.Stream.Group = "coupon-issue-group"
	cfg.Coupon.Issue.Stream.Consumer = "coupon-issue-consumer"
	cfg.Coupon.Issue.Worker.Enabled = true
	cfg.Coupon.Issue.Worker.PollTimeoutMillis = 500
	cfg.Coupon.Issue.Worker.Concurrency = 2
	cfg.Coupon.Issue.Lock.Backend = "redis"
	cfg.Coupon.Issue.Lock.WaitSeconds = 2
	cfg.Coupon.Issue.Lock.LeaseSeconds = 5
	cfg.Coupon.Template.Cache.TTLSeconds = 30
	cfg.Coupon.User.Mode = "stub"
	return cfg
}
