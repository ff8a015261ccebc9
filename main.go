// Copyright 2022 Sogang University
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

// Package main implements one worker of a distributed GCN training job.
// Every worker is started with RANK and WORLD_SIZE in its environment; the
// worker with rank 0 additionally hosts the communicator server at
// MASTER_ADDR:MASTER_PORT through which the workers synchronize.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/9rum/gnnddp/communicator"
	"github.com/9rum/gnnddp/ddp"
	"github.com/9rum/gnnddp/device"
	"github.com/9rum/gnnddp/internal/data"
	"github.com/9rum/gnnddp/internal/graph"
	"github.com/9rum/gnnddp/nn"
	"github.com/9rum/gnnddp/trainer"
	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	dataset    = flag.String("dataset", "reddit", "The dataset to train on")
	dataDir    = flag.String("data_dir", ".", "The directory holding {dataset}_subgs")
	partitions = flag.Int("partitions", 32, "The number of partitions of the dataset")
	topo       = flag.String("topo", "upper", "The partition topology, one of upper, lower, sym")
	hidden     = flag.Int("n_hidden", 128, "The width of hidden layers")
	layers     = flag.Int("n_layers", 1, "The number of hidden layers")
	lr         = flag.Float64("lr", 0.001, "The learning rate")
	epochs     = flag.Int("n_epochs", 500, "The number of epochs")
	gpu        = flag.Int("gpu", 0, "The accelerator index; negative trains on the host")
	devices    = flag.Int("devices", 1, "The number of accelerators visible on this node")
	seed       = flag.Int64("seed", 0, "The seed of the initial weights")
	csvPath    = flag.String("csv", "test.csv", "The metric log appended on every evaluation")
	logDir     = flag.String("log_dir", "test", "The root of run log directories")
	evalSplit  = flag.String("eval_split", "test", "The split scored by periodic evaluation, one of val, test")
	bestModel  = flag.String("best_model", "", "The directory to write the best model to; empty disables it")
	load       = flag.Bool("load", false, "Load the initial weights from weights_dir")
	save       = flag.Bool("save", false, "Save the initial weights to weights_dir and exit")
	weightsDir = flag.String("weights_dir", ".", "The directory of initial weight files")
	progress   = flag.Bool("progress", true, "Show a progress bar")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	env, err := configFromEnv()
	if err != nil {
		glog.Fatalf("invalid configuration: %v", err)
	}

	if err = run(env); err != nil {
		glog.Fatalf("rank %d failed: %v", env.rank, err)
	}
}

// environment is the process-group bootstrap contract.
type environment struct {
	rank      int
	worldSize int
	addr      string
	port      int
}

func configFromEnv() (env environment, err error) {
	lookup := func(key string) (int, error) {
		value, found := os.LookupEnv(key)
		if !found {
			return 0, errors.Errorf("%s is not set", key)
		}
		n, err := strconv.Atoi(value)
		return n, errors.Wrapf(err, "parse %s", key)
	}

	if env.rank, err = lookup("RANK"); err != nil {
		return
	}
	if env.worldSize, err = lookup("WORLD_SIZE"); err != nil {
		return
	}
	if env.worldSize < 1 || env.rank < 0 || env.worldSize <= env.rank {
		return env, errors.Errorf("rank %d out of range for world size %d", env.rank, env.worldSize)
	}

	env.addr = "localhost"
	if addr, found := os.LookupEnv("MASTER_ADDR"); found {
		env.addr = addr
	}
	env.port = 29500
	if _, found := os.LookupEnv("MASTER_PORT"); found {
		if env.port, err = lookup("MASTER_PORT"); err != nil {
			return
		}
	}
	return env, nil
}

func parseConfig() (cfg trainer.Config, err error) {
	cfg = trainer.Config{
		Dataset:   *dataset,
		Hidden:    *hidden,
		Layers:    *layers,
		LR:        *lr,
		Epochs:    *epochs,
		Seed:      *seed,
		CSV:       *csvPath,
		BestModel: *bestModel,
	}
	if cfg.Topology, err = graph.ParseTopology(*topo); err != nil {
		return
	}
	cfg.EvalSplit, err = trainer.ParseSplit(*evalSplit)
	return
}

func run(env environment) error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}
	info, err := data.Lookup(cfg.Dataset)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := data.Load(*dataDir, cfg.Dataset, *partitions, cfg.Topology)
	if err != nil {
		return err
	}
	stats := store.Stats()
	glog.Infof("----Data statistics------")
	glog.Infof("#Nodes %s", humanize.Comma(int64(stats.Nodes)))
	glog.Infof("#Edges %s", humanize.Comma(int64(stats.Edges)))
	glog.Infof("#Classes/Labels %d", stats.Classes)
	glog.Infof("#Train samples %s", humanize.Comma(int64(stats.Train)))
	glog.Infof("#Val samples %s", humanize.Comma(int64(stats.Val)))
	glog.Infof("#Test samples %s", humanize.Comma(int64(stats.Test)))
	glog.Infof("Max label: %d", stats.MaxLabel)
	glog.Infof("#Features %d (%s)", stats.Features, humanize.Bytes(uint64(stats.Nodes)*uint64(stats.Features)*8))

	model, err := nn.NewGCN(rand.New(rand.NewSource(cfg.Seed)), stats.Features, cfg.Hidden, stats.Classes, cfg.Layers)
	if err != nil {
		return err
	}
	glog.Info(model)
	if *save {
		return nn.SaveWeights(model, *weightsDir, cfg.Dataset)
	}
	if *load {
		if err = nn.LoadWeights(model, *weightsDir, cfg.Dataset); err != nil {
			return err
		}
	}

	target := net.JoinHostPort(env.addr, strconv.Itoa(env.port))
	var served chan error
	if env.rank == 0 {
		if served, err = serve(env.port, env.worldSize); err != nil {
			return err
		}
	}

	group, err := communicator.Dial(ctx, target, env.rank, env.worldSize)
	if err != nil {
		return err
	}
	defer func() {
		if err := group.Close(); err != nil {
			glog.Warningf("rank %d left the process group: %v", env.rank, err)
		}
		if served != nil {
			if err := <-served; err != nil {
				glog.Warningf("communicator server: %v", err)
			}
		}
	}()

	if env.rank == 0 {
		if err = writeRunLog(cfg); err != nil {
			return err
		}
	}

	replica, err := ddp.New(ctx, model, group, nn.NewAdam(cfg.LR))
	if err != nil {
		return err
	}

	evaluator := trainer.NewEvaluator()
	if cfg.BestModel != "" {
		if err = os.MkdirAll(cfg.BestModel, 0o755); err != nil {
			return err
		}
		evaluator.Checkpoint = func() error {
			return nn.SaveWeights(model, cfg.BestModel, cfg.Dataset)
		}
	}

	var out io.Writer
	if *progress {
		out = os.Stderr
	}

	c := &trainer.Coordinator{
		Config:     cfg,
		Group:      group,
		Model:      replica,
		Policy:     device.NewPolicy(info.PinToHost, *gpu, env.rank, *devices),
		Partitions: store.Partitions,
		Full:       store.Full,
		Evaluator:  evaluator,
		Progress:   out,
	}
	return c.Run(ctx)
}

// serve hosts the communicator server on the given port.  The returned
// channel yields the result of serving once every worker finalized.
func serve(port, worldSize int) (chan error, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}

	server := communicator.NewServer(make(chan os.Signal), worldSize)
	glog.Infof("server listening at %v", lis.Addr())

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(lis)
	}()
	return served, nil
}

// writeRunLog records the configuration of the run under a fresh directory
// of the log root.
func writeRunLog(cfg trainer.Config) error {
	dir := filepath.Join(*logDir, cfg.Dataset, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	glog.Infof("logging to %s", dir)
	return os.WriteFile(filepath.Join(dir, "loggings"), []byte(cfg.String()+"\n"), 0o644)
}
