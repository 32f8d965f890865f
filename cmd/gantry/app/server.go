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

package app

import (
	"github.com/tencent/gantry/cmd/gantry/context"
	"github.com/tencent/gantry/pkg/gantry/allocation"
	"github.com/tencent/gantry/pkg/gantry/collect"
	"github.com/tencent/gantry/pkg/gantry/metrics"
	"github.com/tencent/gantry/pkg/gantry/predict"
	"github.com/tencent/gantry/pkg/gantry/server"
	"github.com/tencent/gantry/pkg/gantry/store"
	"github.com/tencent/gantry/pkg/gantry/types"
	"github.com/tencent/gantry/pkg/version/verflag"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	genericapiserver "k8s.io/apiserver/pkg/server"
	"k8s.io/klog/v2"
)

// options show the supported flags
type options struct {
	Config string

	// flags related to server
	ApiOption ApiOption
}

// this describe the common module functions
type module interface {
	// Run describe how the module works, this should be started asynchronously
	Run(stop <-chan struct{})
	// Name return module name
	Name() string
}

// printFlags show all flags
func printFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		klog.V(1).Infof("FLAG: --%s=%q", flag.Name, flag.Value)
	})
}

// NewServerCommand initialize server execution context
func NewServerCommand() *cobra.Command {
	opts := newOptions()

	cmd := &cobra.Command{
		Use:   "gantry",
		Short: "gantry predicts the resources of ci build jobs from their history",
		Run: func(cmd *cobra.Command, args []string) {
			verflag.PrintAndExitIfRequested()
			printFlags(cmd.Flags())

			if err := opts.Run(); err != nil {
				klog.Exitf("can't run command, %v", err)
			}
		},
	}

	opts.AddFlags(cmd.Flags())

	return cmd
}

// newOptions return the options instance
func newOptions() *options {
	return &options{}
}

// AddFlags describe server flags
func (o *options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Config, "config", "/etc/gantry/gantry.json",
		"The config file, all defaults are used if it is empty")
	verflag.AddFlags(fs)

	// flags related to API
	o.ApiOption.AddFlags(fs)
}

// Run starts the main loop
func (o *options) Run() error {
	// parse config file
	gantry, err := types.ParseJsonConfig(o.Config)
	if err != nil {
		return err
	}

	signalCh := genericapiserver.SetupSignalHandler()
	ctx := &context.GantryContext{Config: gantry}

	st, err := ctx.GetStore()
	if err != nil {
		return err
	}
	allocations, err := allocation.Load(gantry.Predict.AllocationTable)
	if err != nil {
		return err
	}
	klog.V(2).Infof("allocation table loaded with %d packages", allocations.Len())
	predictor := predict.NewPredictor(gantry.Predict, st, allocations)
	collector := o.initCollector(gantry, ctx, st)

	storeMetrics := metrics.NewStoreCollector(st, store.Tables, gantry.Store.StatsInterval.TimeDuration())
	modules := []module{ctx, storeMetrics}
	// start all modules
	for _, module := range modules {
		klog.V(2).Infof("%s starting", module.Name())
		module.Run(signalCh)
		klog.V(2).Infof("%s started", module.Name())
	}

	// initialize API related context
	if err := o.ApiOption.Init(storeMetrics); err != nil {
		return err
	}
	// start http server
	if err := o.ApiOption.RegisterServer(gantry, predictor, collector, st); err != nil {
		return err
	}

	klog.Infof("gantry starting success")
	<-signalCh
	return nil
}

// initCollector builds the webhook collector, collection is disabled if the metrics backend
// or gitlab is not configured
func (o *options) initCollector(gantry *types.GantryConfig, ctx *context.GantryContext,
	st *store.Store) server.Collector {
	prom, err := ctx.GetPrometheusClient()
	if err != nil {
		klog.Warningf("collection disabled: %v", err)
		return nil
	}
	gl, err := ctx.GetGitlabClient()
	if err != nil {
		klog.Warningf("collection disabled: %v", err)
		return nil
	}
	return collect.NewCollector(gantry.Collect, st, prom, gl)
}
