package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/meshrecon/pixel2mesh/internal/config"
	"github.com/meshrecon/pixel2mesh/internal/logger"
	"github.com/meshrecon/pixel2mesh/pkg/dataset"
	"github.com/meshrecon/pixel2mesh/pkg/mesh"
	"github.com/meshrecon/pixel2mesh/pkg/model"
)

// pipelineFlags are the options shared by commands that build a model.
type pipelineFlags struct {
	cfg        *config.Flags
	checkpoint *string
}

func bindPipelineFlags(fs *flag.FlagSet) *pipelineFlags {
	return &pipelineFlags{
		cfg:        config.BindFlags(fs),
		checkpoint: fs.String("checkpoint", "", "Checkpoint to restore"),
	}
}

// pipeline is a loaded configuration with its model variant.
type pipeline struct {
	cfg     *config.Config
	topo    *mesh.Topology
	variant *model.Variant
}

// setup loads configuration, starts logging and builds the configured
// variant. The caller must call logger.Sync.
func setup(pf *pipelineFlags) (*pipeline, error) {
	cfg, err := config.Load(pf.cfg)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		return nil, err
	}
	logger.Sugar.Debugf("config: %+v", cfg)

	topo, err := loadTopology(cfg.Topology.Path)
	if err != nil {
		return nil, err
	}
	cam, err := cfg.Camera()
	if err != nil {
		return nil, err
	}
	v, err := model.Build(model.Spec{
		Model:    cfg.ModelOptions(),
		Dataset:  cfg.DatasetOptions(),
		Topology: topo,
		Camera:   cam,
		Logger:   logger.Named("model"),
	})
	if err != nil {
		return nil, err
	}
	if *pf.checkpoint != "" {
		if err := v.Model.LoadCheckpoint(*pf.checkpoint); err != nil {
			return nil, err
		}
		logger.Info("checkpoint restored", zap.String("path", *pf.checkpoint))
	} else {
		logger.Warn("no checkpoint given, using freshly initialised weights")
	}
	return &pipeline{cfg: cfg, topo: topo, variant: v}, nil
}

// loadTopology reads path, or generates the default ellipsoid when path is
// empty.
func loadTopology(path string) (*mesh.Topology, error) {
	if path == "" {
		logger.Debug("generating ellipsoid topology")
		return mesh.GenerateEllipsoid(mesh.DefaultGenerateOptions())
	}
	logger.Debug("loading topology", zap.String("path", path))
	return mesh.Load(path)
}

// readSampleList parses evaluation lists: one sample per line holding an
// image path, a point-cloud path and an optional template path. Blank lines
// and lines starting with # are skipped.
func readSampleList(r io.Reader) ([]dataset.Sample, error) {
	var out []dataset.Sample
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("line %d: want <image> <cloud> [template], got %d fields", lineNo, len(fields))
		}
		s := dataset.Sample{Image: fields[0], Cloud: fields[1], Filename: fields[1]}
		if len(fields) == 3 {
			s.Template = fields[2]
		}
		out = append(out, s)
	}
	return out, scanner.Err()
}

func readSampleListFile(path string) ([]dataset.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readSampleList(f)
}
