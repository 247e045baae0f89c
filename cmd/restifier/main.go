package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/restifier/core"
	"github.com/relabs-tech/restifier/core/access"
	"github.com/relabs-tech/restifier/core/backend"
	"github.com/relabs-tech/restifier/core/csql"
	"github.com/relabs-tech/restifier/core/logger"
	"github.com/relabs-tech/restifier/core/notifier"
	"github.com/relabs-tech/restifier/core/store"
	"github.com/relabs-tech/restifier/core/store/memstore"
	"github.com/relabs-tech/restifier/core/store/mongostore"
	"github.com/relabs-tech/restifier/core/store/pgstore"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Port             int    `env:"PORT,default=3000" description:"the port the service listens on"`
	BaseURL          string `env:"BASE_URL,default=/api" description:"the path prefix of all collection routes"`
	ConfigFile       string `env:"CONFIG_FILE,required" description:"the JSON file with the collection configuration"`
	StoreDriver      string `env:"STORE_DRIVER,default=memory" description:"memory, mongo or postgres"`
	MongoURI         string `env:"MONGO_URI" description:"the connection string for MongoDB"`
	MongoDatabase    string `env:"MONGO_DATABASE,default=restifier" description:"the MongoDB database"`
	Postgres         string `env:"POSTGRES" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" description:"password to the Postgres DB"`
	PostgresSchema   string `env:"POSTGRES_SCHEMA,default=restifier" description:"the Postgres schema the collections are stored in"`
	JwtSecret        string `env:"JWT_SECRET" description:"HMAC secret for bearer tokens, enables authorization"`
	JwtIssuer        string `env:"JWT_ISSUER" description:"the expected issuer of bearer tokens"`
	AdminToken       string `env:"ADMIN_TOKEN" description:"static bearer token granting the admin role"`
	KafkaBrokers     string `env:"KAFKA_BROKERS" description:"comma separated kafka brokers for change notifications"`
	KafkaTopic       string `env:"KAFKA_TOPIC,default=restifier" description:"the kafka topic for change notifications"`
	CORSOrigin       string `env:"CORS_ORIGIN" description:"allowed origin for cross-origin requests"`
	LogLevel         string `env:"LOG_LEVEL,default=info" description:"the log level"`
	LogFormat        string `env:"LOG_FORMAT,default=text" description:"text or json"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level, service.LogFormat)
	rlog := logger.Default()

	config, err := os.ReadFile(service.ConfigFile)
	if err != nil {
		rlog.WithError(err).Fatalf("cannot read configuration %s", service.ConfigFile)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, service)
	if err != nil {
		rlog.WithError(err).Fatal("cannot open store")
	}
	defer st.Close(context.Background())

	router := mux.NewRouter()
	logger.AddRequestID(router)

	authorizationEnabled := service.JwtSecret != "" || service.AdminToken != ""
	if service.AdminToken != "" {
		router.Use(access.NewBackdoorMiddleware(map[string]access.Authorization{
			service.AdminToken: {Identity: "admin", Roles: []string{backend.AdminRole}},
		}))
	}
	if service.JwtSecret != "" {
		router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
			Secret: []byte(service.JwtSecret),
			Issuer: service.JwtIssuer,
		}))
	}

	var n core.Notifier
	if service.KafkaBrokers != "" {
		kafka := notifier.NewKafka(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafka.Close()
		n = kafka
	}

	backend.MustNew(&backend.Builder{
		Config:               string(config),
		Store:                st,
		Router:               router,
		Notifier:             n,
		AuthorizationEnabled: authorizationEnabled,
		BaseURL:              service.BaseURL,
		CORSOrigin:           service.CORSOrigin,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", service.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			rlog.WithError(err).Errorln("shutdown failed")
		}
	}()

	rlog.Infof("listen on port :%d", service.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		rlog.WithError(err).Errorln("server stopped")
	}
}

func openStore(ctx context.Context, service *Service) (store.Store, error) {
	switch service.StoreDriver {
	case "memory":
		return memstore.New(), nil
	case "mongo":
		if service.MongoURI == "" {
			return nil, errors.New("MONGO_URI is required for the mongo driver")
		}
		return mongostore.Open(ctx, service.MongoURI, service.MongoDatabase)
	case "postgres":
		if service.Postgres == "" {
			return nil, errors.New("POSTGRES is required for the postgres driver")
		}
		db, err := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.PostgresSchema)
		if err != nil {
			return nil, err
		}
		return pgstore.New(db)
	}
	return nil, fmt.Errorf("unknown store driver %q", service.StoreDriver)
}
