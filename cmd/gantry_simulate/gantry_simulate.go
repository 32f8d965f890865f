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


package main

import (
	"context"
	goflag "flag"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/tencent/gantry/pkg/gantry/predict"
	"github.com/tencent/gantry/pkg/gantry/spec"
	"github.com/tencent/gantry/pkg/gantry/store"
	"github.com/tencent/gantry/pkg/gantry/types"

	jsoniter "github.com/json-iterator/go"
	"github.com/montanaflynn/stats"
	"github.com/parnurzeal/gorequest"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/klog/v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type options struct {
	dbFile string
	url    string
	jobs   int
}

// gantry_simulate replays the latest jobs of a database against a running gantry server,
// and prints how far the predictions are from the recorded usage.
// The server should use a copy of the database with those jobs deleted.
func main() {
	opts := &options{}
	command := &cobra.Command{
		Use:  "gantry_simulate",
		Long: "gantry_simulate replays stored jobs against the allocation api",
		Run: func(cmd *cobra.Command, args []string) {
			if err := opts.run(context.Background()); err != nil {
				klog.Fatalf("simulate failed: %v", err)
			}
		},
	}
	opts.addFlags(command.Flags())

	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	defer klog.Flush()

	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.dbFile, "db", "", "sqlite database holding the jobs to replay")
	fs.StringVar(&o.url, "url", "http://localhost:8080", "gantry server address")
	fs.IntVar(&o.jobs, "jobs", 4000, "number of latest jobs to replay")
}

func (o *options) run(ctx context.Context) error {
	if len(o.dbFile) == 0 {
		return fmt.Errorf("--db is required")
	}
	st, err := store.Open(types.StoreConfig{DBFile: o.dbFile})
	if err != nil {
		return err
	}
	defer st.Close()

	jobs, err := st.ListJobs(ctx, o.jobs)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no jobs found in %s", o.dbFile)
	}

	memRatio, cpuRatio, err := o.replay(jobs)
	if err != nil {
		return err
	}
	fmt.Printf("average memory ratio: %v\n", memRatio)
	fmt.Printf("average cpu ratio: %v\n", cpuRatio)
	return nil
}

// replay returns the average usage/prediction ratios of memory and cpu. Jobs which can not
// be predicted are skipped.
func (o *options) replay(jobs []*types.Job) (float64, float64, error) {
	var memRatios, cpuRatios stats.Float64Data
	for _, job := range jobs {
		key, err := jobKey(job)
		if err != nil {
			klog.Warningf("skip job %d: %v", job.ID, err)
			continue
		}
		cpu, mem, err := o.allocation(key.String())
		if err != nil {
			klog.Warningf("skip job %d: %v", job.ID, err)
			continue
		}
		if cpu == 0 || mem == 0 {
			klog.Warningf("skip job %d: empty prediction", job.ID)
			continue
		}
		memRatios = append(memRatios, job.MemMean/mem)
		cpuRatios = append(cpuRatios, job.CPUMean/cpu)
	}
	klog.Infof("replayed %d of %d jobs", len(memRatios), len(jobs))

	memRatio, err := stats.Mean(memRatios)
	if err != nil {
		return 0, 0, fmt.Errorf("no job replayed: %v", err)
	}
	cpuRatio, err := stats.Mean(cpuRatios)
	if err != nil {
		return 0, 0, fmt.Errorf("no job replayed: %v", err)
	}
	return memRatio, cpuRatio, nil
}

func jobKey(job *types.Job) (*spec.BuildKey, error) {
	variants, err := spec.ParseVariantsJSON(job.PkgVariants)
	if err != nil {
		return nil, err
	}
	return &spec.BuildKey{
		PkgName:         job.PkgName,
		PkgVersion:      job.PkgVersion,
		PkgVariants:     variants,
		CompilerName:    job.CompilerName,
		CompilerVersion: job.CompilerVersion,
	}, nil
}

// allocation returns the predicted cpu cores and memory bytes of the spec
func (o *options) allocation(buildSpec string) (float64, float64, error) {
	resp, body, errs := gorequest.New().
		Get(o.url + "/v1/allocation?spec=" + url.QueryEscape(buildSpec)).
		End()
	if len(errs) != 0 {
		return 0, 0, fmt.Errorf("request %s: %v", buildSpec, errs)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("request %s: status %d, %s", buildSpec, resp.StatusCode, body)
	}

	prediction := &predict.Prediction{}
	if err := json.Unmarshal([]byte(body), prediction); err != nil {
		return 0, 0, fmt.Errorf("invalid response %s: %v", body, err)
	}
	cpu, err := resource.ParseQuantity(prediction.Variables[predict.VarCPURequest])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cpu request: %v", err)
	}
	mem, err := resource.ParseQuantity(prediction.Variables[predict.VarMemoryRequest])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid memory request: %v", err)
	}
	return float64(cpu.MilliValue()) / 1000, float64(mem.Value()), nil
}
