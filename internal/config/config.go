package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load 加载配置
//  1. 加载 .env.{env}（敏感信息 + APP_ENV）
//  2. 根据 APP_ENV 加载 configs/common.yaml + configs/{env}.yaml
//  3. 环境变量覆盖敏感字段，构建最终配置
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))

	loadEnvFiles(env)

	// .env 可能改写 APP_ENV，重新解析一次
	env = parseEnv(getEnv("APP_ENV", string(env)))

	yamlCfg := loadYAMLConfig(env)

	// 敏感信息只从环境变量读取
	yamlCfg.Database.Password = firstEnv("DB_PASSWORD", "MONGO_ROOT_PASSWORD")
	yamlCfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	yamlCfg.MinIO.AccessKey = firstEnv("MINIO_ROOT_USER", "MINIO_ACCESS_KEY")
	yamlCfg.MinIO.SecretKey = firstEnv("MINIO_ROOT_PASSWORD", "MINIO_SECRET_KEY")
	yamlCfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	yamlCfg.Auth.AdminEmail = os.Getenv("ADMIN_EMAIL")
	yamlCfg.Auth.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	// 连接地址整体覆盖（容器部署直连）
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = buildDatabaseURL(yamlCfg.Database, yamlCfg.Database.Password)
	}
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = buildRedisURL(yamlCfg.Redis)
	}
	if eps := os.Getenv("ETCD_ENDPOINTS"); eps != "" {
		yamlCfg.Etcd.Endpoints = strings.Split(eps, ",")
	}
	if ep := os.Getenv("MINIO_ENDPOINT"); ep != "" {
		yamlCfg.MinIO.Endpoint = ep
	}

	cfg := &Config{
		Env:            env,
		DatabaseDriver: detectDatabaseDriver(yamlCfg.Database.Driver, databaseURL),
		DatabaseURL:    databaseURL,
		DatabaseDBName: yamlCfg.Database.Name,
		RedisURL:       redisURL,
		EtcdEndpoints:  yamlCfg.Etcd.Endpoints,
		EtcdPrefix:     yamlCfg.Etcd.Prefix,
		APIPort:        yamlCfg.APIServer.Port,
		APIServer:      yamlCfg.APIServer,
		Scheduler:      yamlCfg.Scheduler,
		Engine:         yamlCfg.Engine,
		Auth:           yamlCfg.Auth,
		MinIO:          yamlCfg.MinIO,
		ConfigFilePath: yamlCfg.loadedFrom,
	}

	cfg.Scheduler.validate()
	cfg.Engine.validate()

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfigInternal {
	cfg := &yamlConfigInternal{
		YAMLConfig: YAMLConfig{
			APIServer: APIServerConfig{Port: "8080"},
			Database:  DatabaseConfig{Host: "localhost", Port: 5432, User: "missions", Name: "missions_admin", SSLMode: "disable"},
			Redis:     RedisConfig{Host: "localhost", Port: 6379, DB: 0},
			Etcd:      EtcdConfig{Prefix: "/missions"},
			MinIO:     MinIOConfig{Bucket: "missions-admin"},
			Auth:      AuthConfig{AccessTokenTTL: "15m", RefreshTokenTTL: "168h"},
		},
	}

	paths := effectiveConfigPaths()

	// common.yaml（公共配置）
	for _, base := range paths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, &cfg.YAMLConfig)
			break
		}
	}

	// {env}.yaml（环境特定配置，覆盖公共配置）
	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range paths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, &cfg.YAMLConfig)
			cfg.loadedFrom = path
			break
		}
	}

	return cfg
}
