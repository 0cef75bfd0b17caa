// cmd/coupon-service/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"couponhub/internal/pkg/bootstrap"
	"couponhub/internal/pkg/httpclient"
	"couponhub/internal/pkg/lock"
	"couponhub/internal/pkg/logger"
	"couponhub/internal/pkg/mq"
	"couponhub/internal/pkg/redis"
	"couponhub/internal/service/coupon/application"
	"couponhub/internal/service/coupon/application/issue"
	"couponhub/internal/service/coupon/infrastructure"
	"couponhub/internal/service/coupon/interfaces"
	"couponhub/internal/service/coupon/port"
)

const serviceName = "coupon-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()
	tracer := otel.Tracer(serviceName)
	ctx := context.Background()

	// --- 基础设施 ---
	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	db, err := infrastructure.NewDB(infrastructure.MysqlConfig{
		Host:     cfg.Infra.Mysql.Host,
		Port:     cfg.Infra.Mysql.Port,
		User:     cfg.Infra.Mysql.User,
		Password: cfg.Infra.Mysql.Password,
		Database: cfg.Infra.Mysql.Database,
	})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}

	templates := infrastructure.NewGormCouponTemplateRepository(db)
	coupons := infrastructure.NewGormCouponRepository(db)
	txManager := infrastructure.NewGormTransactionManager(db)

	// 分布式锁后端按配置切换
	var locker lock.Locker
	var zkLocker *lock.ZookeeperLocker
	switch cfg.Coupon.Issue.Lock.Backend {
	case "zookeeper":
		zkLocker, err = lock.NewZookeeperLocker(cfg.Infra.Zookeeper.Addrs)
		if err != nil {
			log.Fatalf("failed to create zookeeper locker: %v", err)
		}
		locker = zkLocker
	default:
		locker, err = lock.NewRedisLocker(redisClient)
		if err != nil {
			log.Fatalf("failed to create redis locker: %v", err)
		}
	}

	// 用户服务客户端按配置切换
	var users port.UserClient
	if cfg.Coupon.User.Mode == "http" {
		users = infrastructure.NewHTTPUserClient(httpclient.NewClient(tracer), cfg.Coupon.User.BaseURL)
	} else {
		users = infrastructure.NewStubUserClient()
	}

	cache := infrastructure.NewRedisAvailabilityCache(
		redisClient, templates, time.Duration(cfg.Coupon.Template.Cache.TTLSeconds)*time.Second)

	producer := infrastructure.NewKafkaIssuedEventProducer(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.IssuedTopic)

	// --- 应用层 ---
	service := application.NewCouponService(
		templates, coupons, cache, users, txManager, locker, producer, tracer,
		time.Duration(cfg.Coupon.Issue.Lock.WaitSeconds)*time.Second,
		time.Duration(cfg.Coupon.Issue.Lock.LeaseSeconds)*time.Second,
	)

	ranks := infrastructure.NewRedisRankedSet(redisClient)
	workLog := infrastructure.NewRedisOrderedLog(redisClient)
	coordinator := issue.NewCoordinator(ranks, workLog, issue.Config{
		QueueKeyPrefix:          cfg.Coupon.Issue.Queue.Prefix,
		QueueTTL:                time.Duration(cfg.Coupon.Issue.Queue.TTLSeconds) * time.Second,
		AverageProcessingMillis: cfg.Coupon.Issue.Queue.AverageProcessingMillis,
		RequestStreamKey:        cfg.Coupon.Issue.Stream.RequestKey,
	}, tracer)

	facade := application.NewCouponIssueFacade(users, cache, coordinator, service, cfg.Coupon.Issue.AsyncEnabled, tracer)

	// --- 后台消费者 ---
	worker := infrastructure.NewIssueRequestConsumer(workLog, coordinator, service, infrastructure.ConsumerConfig{
		Enabled:          cfg.Coupon.Issue.Worker.Enabled,
		RequestStreamKey: cfg.Coupon.Issue.Stream.RequestKey,
		IssueStreamKey:   cfg.Coupon.Issue.Stream.IssueKey,
		Group:            cfg.Coupon.Issue.Stream.Group,
		ConsumerPrefix:   cfg.Coupon.Issue.Stream.Consumer,
		PollTimeout:      time.Duration(cfg.Coupon.Issue.Worker.PollTimeoutMillis) * time.Millisecond,
		Concurrency:      cfg.Coupon.Issue.Worker.Concurrency,
	})
	if err := worker.Start(ctx); err != nil {
		log.Fatalf("failed to start issue request worker: %v", err)
	}

	orderPaidReader := mq.NewGroupReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.OrderPaidTopic, cfg.Infra.Kafka.OrderPaidGroup)
	orderPaidConsumer := infrastructure.NewOrderPaidConsumerAdapter(orderPaidReader, service)
	orderPaidConsumer.Start(ctx)

	resultHub := interfaces.NewResultPushHub(workLog, cfg.Coupon.Issue.Stream.IssueKey)
	if err := resultHub.Start(ctx); err != nil {
		log.Fatalf("failed to start result push hub: %v", err)
	}

	handler := interfaces.NewCouponHandler(facade, service)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.Service.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
			appCtx.Mux.HandleFunc("/ws/issue-results", resultHub.ServeWS)
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) { worker.Stop(ctx) },
			func(ctx context.Context) { orderPaidConsumer.Stop() },
			func(ctx context.Context) { resultHub.Stop(ctx) },
			func(ctx context.Context) { _ = producer.Close() },
			func(ctx context.Context) {
				if zkLocker != nil {
					zkLocker.Close()
				}
			},
			func(ctx context.Context) { _ = redisClient.Close() },
		},
	})
}
