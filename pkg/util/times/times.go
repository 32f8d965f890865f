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

package times

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// WebhookLayout is the datetime format used by gitlab webhooks, such as "2021-02-23 02:41:37 UTC".
// The documentation claims iso 8601, which is not what is sent.
const WebhookLayout = "2006-01-02 15:04:05 MST"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Duration is a alias of time.Duration which supports correct
// marshaling to JSON
type Duration time.Duration

// MarshalJSON marshals Duration
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON unmarshals Duration, both "5m" and nanoseconds are accepted
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		if len(value) == 0 {
			*d = Duration(0)
			return nil
		}
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.New("invalid duration")
	}
}

// Seconds return the duration as a floating point number of seconds.
func (d Duration) Seconds() float64 {
	return time.Duration(d).Seconds()
}

// TimeDuration convert duration to time.Duration
func (d Duration) TimeDuration() time.Duration {
	return time.Duration(d)
}

// ParseWebhookTime parses a webhook timestamp, the zone must be UTC
func ParseWebhookTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, " UTC") {
		return time.Time{}, fmt.Errorf("timestamp %q is not in UTC", s)
	}
	t, err := time.ParseInLocation(WebhookLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatWebhookTime is the reverse of ParseWebhookTime
func FormatWebhookTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05") + " UTC"
}

// Midpoint returns the time halfway between start and end.
// Metrics are not guaranteed to exist at the exact edges of a job.
func Midpoint(start, end time.Time) time.Time {
	return start.Add(end.Sub(start) / 2)
}
