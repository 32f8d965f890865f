/*
 * Copyright (c) 2021 THL A29 Limited, a Tencent company.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 *
 * You may obtain a copy of the License at http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/tencent/gantry/pkg/util/times"

	jsoniter "github.com/json-iterator/go"
	"k8s.io/klog/v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// environment variables overriding the config file, mostly secrets
	EnvDBFile             = "GANTRY_DB_FILE"
	EnvPrometheusURL      = "PROMETHEUS_URL"
	EnvPrometheusCookie   = "PROMETHEUS_COOKIE"
	EnvGitlabURL          = "GITLAB_URL"
	EnvGitlabAPIToken     = "GITLAB_API_TOKEN"
	EnvGitlabWebhookToken = "GITLAB_WEBHOOK_TOKEN"

	defaultDBFile          = "/var/lib/gantry/gantry.db"
	defaultClientTimeout   = times.Duration(30 * time.Second)
	defaultRequestTimeout  = times.Duration(time.Minute)
	defaultBuildJobs       = 16
	defaultOOMLookback     = times.Duration(10 * time.Minute)
	defaultStatsInterval   = times.Duration(time.Minute)
	defaultRateBurstFactor = 2
)

// GantryConfig is the configuration for gantry
type GantryConfig struct {
	Store      StoreConfig      `json:"store"`
	Prometheus PrometheusConfig `json:"prometheus"`
	Gitlab     GitlabConfig     `json:"gitlab"`
	Predict    PredictConfig    `json:"predict"`
	Collect    CollectConfig    `json:"collect"`
	Server     ServerConfig     `json:"server"`
}

// StoreConfig describes the sqlite database
type StoreConfig struct {
	DBFile string `json:"db_file"`
	// StatsInterval is how often table sizes are refreshed for metrics
	StatsInterval times.Duration `json:"stats_interval"`
}

// PrometheusConfig describes how to reach the metrics backend
type PrometheusConfig struct {
	URL string `json:"url"`
	// Cookie is sent as _oauth2_proxy if not empty
	Cookie  string         `json:"cookie"`
	Timeout times.Duration `json:"timeout"`
}

// GitlabConfig describes the ci control plane
type GitlabConfig struct {
	// URL is the project api address, such as https://gitlab.example.com/api/v4/projects/2
	URL          string         `json:"url"`
	APIToken     string         `json:"api_token"`
	WebhookToken string         `json:"webhook_token"`
	Timeout      times.Duration `json:"timeout"`
}

// CollectConfig group options for the ingestion pipeline
type CollectConfig struct {
	// DefaultBuildJobs is used when the pod does not carry the build jobs annotation
	DefaultBuildJobs int `json:"default_build_jobs"`
	// OOMLookback extends the oom query after the job ended, the terminated reason may show up late
	OOMLookback         times.Duration `json:"oom_lookback"`
	RestartOOMPipelines bool           `json:"restart_oom_pipelines"`
}

// ServerConfig group options for the http server
type ServerConfig struct {
	// RateLimit is requests per second, 0 disables limiting
	RateLimit      float64        `json:"rate_limit"`
	RateBurst      int            `json:"rate_burst"`
	RequestTimeout times.Duration `json:"request_timeout"`
}

// ParseJsonConfig parse json config, an empty file name means all defaults
func ParseJsonConfig(configFile string) (*GantryConfig, error) {
	gantry := &GantryConfig{}
	if len(configFile) != 0 {
		file, err := os.Open(configFile)
		if err != nil {
			return nil, fmt.Errorf("open config file(%s) err: %v", configFile, err)
		}
		defer file.Close()

		if err := json.NewDecoder(file).Decode(gantry); err != nil {
			return nil, fmt.Errorf("parse config file(%s) to json err: %v", configFile, err)
		}
	}

	overrideFromEnv(gantry)
	if err := initJsonConfig(gantry); err != nil {
		return nil, err
	}
	data, err := json.Marshal(hideSecrets(*gantry))
	if err != nil {
		return nil, fmt.Errorf("marshal gantry config: %v", err)
	}
	klog.Infof("formated gantry json config: %s", string(data))
	return gantry, nil
}

func overrideFromEnv(config *GantryConfig) {
	envs := []struct {
		name  string
		field *string
	}{
		{EnvDBFile, &config.Store.DBFile},
		{EnvPrometheusURL, &config.Prometheus.URL},
		{EnvPrometheusCookie, &config.Prometheus.Cookie},
		{EnvGitlabURL, &config.Gitlab.URL},
		{EnvGitlabAPIToken, &config.Gitlab.APIToken},
		{EnvGitlabWebhookToken, &config.Gitlab.WebhookToken},
	}
	for _, env := range envs {
		if value, ok := os.LookupEnv(env.name); ok {
			*env.field = value
		}
	}
}

func hideSecrets(config GantryConfig) GantryConfig {
	mask := func(s *string) {
		if len(*s) != 0 {
			*s = "******"
		}
	}
	mask(&config.Prometheus.Cookie)
	mask(&config.Gitlab.APIToken)
	mask(&config.Gitlab.WebhookToken)
	return config
}

func initJsonConfig(gantry *GantryConfig) error {
	initStoreConfig(&gantry.Store)
	if err := initPrometheusConfig(&gantry.Prometheus); err != nil {
		return err
	}
	if err := initGitlabConfig(&gantry.Gitlab); err != nil {
		return err
	}
	if err := InitPredictConfig(&gantry.Predict); err != nil {
		return err
	}
	initCollectConfig(&gantry.Collect)
	return initServerConfig(&gantry.Server)
}

func initStoreConfig(config *StoreConfig) {
	if len(config.DBFile) == 0 {
		config.DBFile = defaultDBFile
	}
	if config.StatsInterval.Seconds() == 0 {
		config.StatsInterval = defaultStatsInterval
	}
}

func initPrometheusConfig(config *PrometheusConfig) error {
	if config.Timeout.Seconds() == 0 {
		config.Timeout = defaultClientTimeout
	}
	return checkURL("prometheus", config.URL)
}

func initGitlabConfig(config *GitlabConfig) error {
	if config.Timeout.Seconds() == 0 {
		config.Timeout = defaultClientTimeout
	}
	if len(config.WebhookToken) == 0 {
		klog.Warningf("gitlab webhook token is empty, collect requests are not authenticated")
	}
	return checkURL("gitlab", config.URL)
}

func initCollectConfig(config *CollectConfig) {
	if config.DefaultBuildJobs == 0 {
		config.DefaultBuildJobs = defaultBuildJobs
	}
	if config.OOMLookback.Seconds() == 0 {
		config.OOMLookback = defaultOOMLookback
	}
}

func initServerConfig(config *ServerConfig) error {
	if config.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit %v, must not be negative", config.RateLimit)
	}
	if config.RateLimit > 0 && config.RateBurst == 0 {
		config.RateBurst = int(config.RateLimit*defaultRateBurstFactor) + 1
	}
	if config.RequestTimeout.Seconds() == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

// checkURL accepts an empty address, the client is then unavailable
func checkURL(name, addr string) error {
	if len(addr) == 0 {
		klog.Warningf("%s url is empty", name)
		return nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("invalid %s url %s: %v", name, addr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s url %s: scheme must be http or https", name, addr)
	}
	return nil
}
