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

package gitlab

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tencent/gantry/pkg/gantry/types"

	"github.com/parnurzeal/gorequest"
	"k8s.io/klog/v2"
)

const (
	tokenHeader = "PRIVATE-TOKEN"
	// ghostMarker is printed by jobs which found nothing to build
	ghostMarker = "No need to rebuild"
)

// Client talks to the gitlab project api
type Client struct {
	url     string
	token   string
	timeout time.Duration
}

// NewClient new gitlab client, the url is the project api address
func NewClient(config types.GitlabConfig) (*Client, error) {
	if len(config.URL) == 0 {
		return nil, fmt.Errorf("gitlab url is empty")
	}
	return &Client{
		url:     strings.TrimSuffix(config.URL, "/"),
		token:   config.APIToken,
		timeout: config.Timeout.TimeDuration(),
	}, nil
}

func (c *Client) newRequest() *gorequest.SuperAgent {
	client := gorequest.New().SetDebug(bool(klog.V(5).Enabled()))
	if c.timeout != 0 {
		client = client.Timeout(c.timeout)
	}
	return client
}

// JobLog returns the trace of the job
func (c *Client) JobLog(gitlabID int64) (string, error) {
	addr := fmt.Sprintf("%s/jobs/%d/trace", c.url, gitlabID)
	resp, body, errs := c.newRequest().Get(addr).Set(tokenHeader, c.token).End()
	if len(errs) != 0 {
		return "", fmt.Errorf("get job %d log failed: %v", gitlabID, errs)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get job %d log status not ok: %d", gitlabID, resp.StatusCode)
	}
	return body, nil
}

// IsGhost checks if the job did not build anything, its usage is meaningless
func (c *Client) IsGhost(gitlabID int64) (bool, error) {
	log, err := c.JobLog(gitlabID)
	if err != nil {
		return false, err
	}
	return strings.Contains(log, ghostMarker), nil
}

// StartPipeline starts a new pipeline for the ref
func (c *Client) StartPipeline(ref string) error {
	addr := fmt.Sprintf("%s/pipeline?ref=%s", c.url, url.QueryEscape(ref))
	resp, body, errs := c.newRequest().Post(addr).Set(tokenHeader, c.token).End()
	if len(errs) != 0 {
		return fmt.Errorf("start pipeline for %s failed: %v", ref, errs)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("start pipeline for %s failed %d: %s", ref, resp.StatusCode, body)
	}
	klog.V(2).Infof("started pipeline for %s", ref)
	return nil
}
