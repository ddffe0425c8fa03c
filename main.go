package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/watchlog/stackrunner/interfaces"
	"github.com/watchlog/stackrunner/models"
	"github.com/watchlog/stackrunner/services/docker"
	"github.com/watchlog/stackrunner/services/report"
)

const usage = `usage: stackrunner [flags] <action> [service]

actions:
  up        create networks/volumes, build or pull images, start services
  down      stop and remove the stack (volumes kept unless -volumes)
  status    list the stack's containers
  logs      stream one service's logs (takes the service name)
  check     validate the manifest without touching the engine

flags:`

func loadTopology(manifestPath, envPath string) (*models.Topology, error) {
	lookup, err := models.EnvFileLookup(envPath, true)
	if err != nil {
		return nil, err
	}

	topology, err := models.LoadTopology(manifestPath)
	if err != nil {
		return nil, err
	}

	if err := topology.Resolve(lookup); err != nil {
		return nil, err
	}

	return topology, nil
}

func selectPlatform(platform string, events *report.Reporter) (interfaces.Platform, error) {
	switch platform {
	case "docker":
		return docker.NewDockerPlatform(events)
	// case "k8s":
	//     return k8s.New(...), nil
	default:
		return nil, fmt.Errorf("%q is not a valid platform", platform)
	}
}

func main() {
	var (
		manifestPath  = flag.String("f", "stack.yaml", "topology manifest path")
		envPath       = flag.String("env-file", ".env", "env file consulted for ${VAR} substitution")
		removeVolumes = flag.Bool("volumes", false, "down: also remove named volumes")
		follow        = flag.Bool("follow", false, "logs: follow output")
		verbose       = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	action := flag.Arg(0)
	if action == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	topology, err := loadTopology(*manifestPath, *envPath)
	if err != nil {
		logrus.Fatal(err)
	}

	events, err := report.NewReporterFromEnv()
	if err != nil {
		logrus.Fatal(err)
	}

	p, err := selectPlatform(topology.Platform, events)
	if err != nil {
		logrus.Fatal(err)
	}

	switch action {
	case "up":
		err = p.Up(ctx, uuid.New(), topology)
	case "down":
		err = p.Down(ctx, topology, *removeVolumes)
	case "status":
		err = p.Status(ctx, topology, os.Stdout)
	case "logs":
		service := flag.Arg(1)
		if service == "" {
			logrus.Fatal("logs requires a service name")
		}
		err = p.Logs(ctx, topology, service, *follow, os.Stdout, os.Stderr)
	case "check":
		if err = p.Check(topology); err == nil {
			logrus.WithField("stack", topology.Stack).Info("manifest is valid")
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logrus.Fatal(err)
	}
}
