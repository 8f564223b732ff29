// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/ghodss/yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencluster/gres-select/pkg/gres"
	logger "github.com/opencluster/gres-select/pkg/log"
)

var log = logger.NewLogger("gres-selectd")

// scenario is the YAML shape accepted by -scenario-file: a single job's
// request against a set of candidate nodes, encoded close enough to
// gres.NodeRequest to unmarshal with no translation layer.
type scenario struct {
	Nodes []*gres.NodeRequest   `json:"nodes"`
	Multi gres.MultiCoreOptions `json:"multiCore"`
}

func main() {
	scenarioFile := flag.String("scenario-file", "", "YAML file describing candidate nodes and a job's GRES request.")
	policyFile := flag.String("policy-file", "", "YAML file overlaying cluster-wide GRES policy (LLSharedGres, MultipleSharingGresPJ).")
	metricsAddr := flag.String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9100) until interrupted.")
	flag.Parse()

	if *policyFile != "" {
		raw, err := os.ReadFile(*policyFile)
		if err != nil {
			log.Fatal("failed to read policy file: %v", err)
		}
		pol, err := gres.ParseClusterPolicy(raw)
		if err != nil {
			log.Fatal("failed to parse policy file: %v", err)
		}
		*gres.CurrentPolicy() = *pol
	}

	if *scenarioFile == "" {
		fmt.Fprintln(os.Stderr, "usage: gres-selectd -scenario-file <file> [-policy-file <file>] [-metrics-addr <addr>]")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*scenarioFile)
	if err != nil {
		log.Fatal("failed to read scenario file: %v", err)
	}

	var sc scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		log.Fatal("failed to parse scenario file: %v", err)
	}

	for _, req := range sc.Nodes {
		availGpus, nearGpus, err := gres.RemoveUnusable(req)
		if err != nil {
			kind, _ := gres.KindOf(err)
			log.Error("node %s infeasible (%s): %v", req.NodeName, kind, err)
			os.Exit(1)
		}
		log.Info("node %s: feasible, avail_gpus=%d near_gpus=%d", req.NodeName, availGpus, nearGpus)
	}

	if err := gres.SelectAndSet(sc.Nodes, sc.Multi, gres.CurrentPolicy()); err != nil {
		log.Error("selection failed: %v", err)
		os.Exit(1)
	}

	for _, req := range sc.Nodes {
		for _, sg := range req.SockGres {
			js := sg.GresStateJob
			log.Info("job kind %d total_gres=%d", js.PluginID, js.TotalGres)
		}
	}

	if *metricsAddr != "" {
		prometheus.MustRegister(gres.DefaultMetrics)
		http.Handle("/metrics", promhttp.Handler())
		log.Info("serving metrics on %s/metrics", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Fatal("metrics server failed: %v", err)
		}
	}
}
