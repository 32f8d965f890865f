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
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/assert"
)

func writeConfig(t *testing.T, content string) string {
	file := filepath.Join(t.TempDir(), "gantry.json")
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatalf("write config file err: %v", err)
	}
	return file
}

// TestParseJsonConfig test config parsing and defaulting
func TestParseJsonConfig(t *testing.T) {
	file := writeConfig(t, `{
	"store": {"db_file": "/tmp/gantry.db"},
	"prometheus": {"url": "http://prometheus:9090", "timeout": "10s"},
	"predict": {"expensive_variants": ["cuda", "cuda", "", "mpi"], "ensure_higher": true},
	"collect": {"restart_oom_pipelines": true},
	"server": {"rate_limit": 10}
}`)
	t.Setenv(EnvGitlabURL, "https://gitlab.example.com/api/v4/projects/2/")
	t.Setenv(EnvGitlabWebhookToken, "hook")

	config, err := ParseJsonConfig(file)
	assert.NilError(t, err)

	assert.Equal(t, config.Store.DBFile, "/tmp/gantry.db")
	assert.Equal(t, config.Store.StatsInterval.TimeDuration(), time.Minute)
	assert.Equal(t, config.Prometheus.Timeout.TimeDuration(), 10*time.Second)
	assert.Equal(t, config.Gitlab.URL, "https://gitlab.example.com/api/v4/projects/2/")
	assert.Equal(t, config.Gitlab.WebhookToken, "hook")
	assert.Equal(t, config.Gitlab.Timeout.TimeDuration(), 30*time.Second)

	assert.DeepEqual(t, config.Predict.ExpensiveVariants, []string{"cuda", "mpi"})
	assert.Equal(t, config.Predict.EnsureHigher, true)
	assert.Equal(t, config.Predict.IdealSampleSize, 5)
	assert.Equal(t, config.Predict.Ref, "develop")
	assert.Equal(t, config.Predict.DefaultCPUCores, DefaultCPUCores)
	assert.Equal(t, config.Predict.DefaultMemBytes, DefaultMemBytes)
	assert.Equal(t, config.Predict.OOMRetryLimit, 3)
	assert.Equal(t, config.Predict.BulkConcurrency, 8)

	assert.Equal(t, config.Collect.DefaultBuildJobs, 16)
	assert.Equal(t, config.Collect.OOMLookback.TimeDuration(), 10*time.Minute)
	assert.Equal(t, config.Collect.RestartOOMPipelines, true)

	assert.Equal(t, config.Server.RateBurst, 21)
	assert.Equal(t, config.Server.RequestTimeout.TimeDuration(), time.Minute)
}

// TestParseJsonConfigInvalid test rejected configs
func TestParseJsonConfigInvalid(t *testing.T) {
	cases := []struct {
		describe string
		content  string
	}{
		{
			describe: "bad json",
			content:  `{"store": `,
		},
		{
			describe: "bad prometheus scheme",
			content:  `{"prometheus": {"url": "ftp://prometheus"}}`,
		},
		{
			describe: "negative rate limit",
			content:  `{"server": {"rate_limit": -1}}`,
		},
		{
			describe: "default below floor",
			content:  `{"predict": {"default_cpu_cores": 0.1}}`,
		},
		{
			describe: "limit factor below 1",
			content:  `{"predict": {"limit_factor": 0.5}}`,
		},
		{
			describe: "negative sample size",
			content:  `{"predict": {"ideal_sample_size": -2}}`,
		},
	}

	for _, c := range cases {
		_, err := ParseJsonConfig(writeConfig(t, c.content))
		if err == nil {
			t.Fatalf("config case(%s) expect error, got nil", c.describe)
		}
	}

	if _, err := ParseJsonConfig("/not/exist/gantry.json"); err == nil {
		t.Fatalf("missing config file expect error, got nil")
	}
}

// TestHideSecrets test secrets are masked without touching the config
func TestHideSecrets(t *testing.T) {
	config := GantryConfig{
		Prometheus: PrometheusConfig{Cookie: "cookie"},
		Gitlab:     GitlabConfig{APIToken: "token"},
	}
	hidden := hideSecrets(config)
	assert.Equal(t, hidden.Prometheus.Cookie, "******")
	assert.Equal(t, hidden.Gitlab.APIToken, "******")
	assert.Equal(t, hidden.Gitlab.WebhookToken, "")
	assert.Equal(t, config.Gitlab.APIToken, "token")
}
