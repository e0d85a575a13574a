package main

import (
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flywave/go3d/float64/vec3"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/internal/config"
	"github.com/meshrecon/pixel2mesh/internal/logger"
	"github.com/meshrecon/pixel2mesh/pkg/camera"
	"github.com/meshrecon/pixel2mesh/pkg/dataset"
	"github.com/meshrecon/pixel2mesh/pkg/formats"
	"github.com/meshrecon/pixel2mesh/pkg/gcn"
	"github.com/meshrecon/pixel2mesh/pkg/loss"
	"github.com/meshrecon/pixel2mesh/pkg/mesh"
)

func cmdInfo(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: p2m info <file.p2mt|file.p2mc>")
	}
	path := args[0]
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p2mc":
		return checkpointInfo(path)
	default:
		return topologyInfo(path)
	}
}

func topologyInfo(path string) error {
	topo, err := mesh.Load(path)
	if err != nil {
		return err
	}
	bounds := mesh.Bounds(topo.Coords)

	fmt.Printf("Topology: %s\n", path)
	fmt.Printf("Bounds:   %v .. %v\n", bounds.Min, bounds.Max)
	fmt.Println()
	fmt.Printf("  %-6s %8s %8s %8s %8s\n", "level", "vertices", "edges", "faces", "nnz")
	for i, lvl := range topo.Levels {
		fmt.Printf("  %-6d %8d %8d %8d %8d\n", i, lvl.NumVertices, len(lvl.Edges), len(lvl.Faces), lvl.Adj.NNZ())
	}
	fmt.Println()
	for i, u := range topo.Unpool {
		fmt.Printf("Unpool %d->%d: %d midpoints\n", i, i+1, len(u))
	}
	return nil
}

func checkpointInfo(path string) error {
	ck, err := formats.ParseCheckpointFile(path)
	if err != nil {
		return err
	}
	var values int
	for _, p := range ck.Params {
		values += int(p.Rows) * int(p.Cols)
	}

	fmt.Printf("Checkpoint: %s\n", path)
	fmt.Printf("Version:    %s\n", ck.Version)
	fmt.Printf("Variant:    %s\n", ck.Variant)
	fmt.Printf("Backbone:   %s\n", ck.Backbone)
	fmt.Printf("Params:     %d matrices, %d values\n", len(ck.Params), values)
	fmt.Println()
	fmt.Println("Constants:")
	for _, c := range ck.Constants {
		fmt.Printf("  %-10s %dx%d\n", c.Name, c.Rows, c.Cols)
	}
	return nil
}

func cmdGenEllipsoid(args []string) error {
	fs := flag.NewFlagSet("gen-ellipsoid", flag.ExitOnError)
	out := fs.String("out", "ellipsoid.p2mt", "Output topology file")
	rings := fs.Int("rings", 12, "Latitude bands")
	segments := fs.Int("segments", 14, "Longitude segments")
	preview := fs.String("export", "", "Also export every level as a mesh (.glb or .obj)")
	fs.Parse(args)

	opts := mesh.DefaultGenerateOptions()
	opts.Rings, opts.Segments = *rings, *segments
	topo, err := mesh.GenerateEllipsoid(opts)
	if err != nil {
		return err
	}
	if err := topo.Save(*out); err != nil {
		return err
	}
	counts := topo.VertexCounts()
	fmt.Printf("Wrote %s (vertices %v)\n", *out, counts)

	if *preview != "" {
		meshes, err := levelMeshes(topo)
		if err != nil {
			return err
		}
		if err := mesh.Export(*preview, meshes...); err != nil {
			return err
		}
		fmt.Printf("Exported %s\n", *preview)
	}
	return nil
}

// levelMeshes returns the raw-space ellipsoid at every level, unpooling the
// coordinates the same way the network does.
func levelMeshes(topo *mesh.Topology) ([]mesh.NamedMesh, error) {
	coords := mesh.DenseFromVertices(topo.Coords)
	out := make([]mesh.NamedMesh, 0, mesh.NumLevels)
	for i := 0; i < mesh.NumLevels; i++ {
		if i > 0 {
			u, err := gcn.NewUnpool(topo.Unpool[i-1], topo.Levels[i-1].NumVertices)
			if err != nil {
				return nil, err
			}
			if coords, err = u.Forward(coords); err != nil {
				return nil, err
			}
		}
		out = append(out, mesh.NamedMesh{
			Name:     fmt.Sprintf("level%d", i),
			Vertices: mesh.VerticesFromDense(coords),
			Faces:    topo.Levels[i].Faces,
		})
	}
	return out, nil
}

func cmdInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	out := fs.String("out", "", "Output path (default: user config directory)")
	fs.Parse(args)

	cfg := config.Default()
	if *out == "" {
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
		return nil
	}
	if err := cfg.SaveTo(*out); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", *out)
	return nil
}

func cmdInitCheckpoint(args []string) error {
	fs := flag.NewFlagSet("init-checkpoint", flag.ExitOnError)
	pf := bindPipelineFlags(fs)
	out := fs.String("out", "model.p2mc", "Output checkpoint file")
	fs.Parse(args)

	p, err := setup(pf)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := p.variant.Model.SaveCheckpoint(*out); err != nil {
		return err
	}
	logger.Info("checkpoint written",
		zap.String("path", *out),
		zap.String("variant", p.variant.Name),
		zap.Int("params", len(p.variant.Model.Params())),
	)
	return nil
}

func cmdPredict(args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	pf := bindPipelineFlags(fs)
	imagePath := fs.String("image", "", "Input image")
	template := fs.String("template", "", "Template mesh (.obj) for the template variant")
	depth := fs.String("depth", "", "Depth rendering for 4-channel backbones (default <image>"+dataset.DepthSuffix+")")
	out := fs.String("out", "mesh.glb", "Output mesh (.glb or .obj)")
	allStages := fs.Bool("stages", false, "Export every stage, not just the last (.glb only)")
	fs.Parse(args)

	if *imagePath == "" {
		return errors.New("usage: p2m predict -image <img.png> [-out mesh.glb]")
	}
	p, err := setup(pf)
	if err != nil {
		return err
	}
	defer logger.Sync()

	m := p.variant.Model
	cam := m.Camera()
	img, err := dataset.LoadImage(*imagePath, p.cfg.Dataset.ImageSize, p.cfg.Dataset.Normalization)
	if err != nil {
		return err
	}
	if p.variant.Data.Options().WithDepth {
		if *depth == "" {
			*depth = dataset.DepthPath(*imagePath)
		}
		d, err := dataset.LoadDepth(*depth, p.cfg.Dataset.ImageSize)
		if err != nil {
			return err
		}
		if img, err = dataset.AppendDepth(img, d); err != nil {
			return err
		}
	}
	initPts := m.InitPts()
	if m.UsesTemplate() {
		if *template == "" {
			return fmt.Errorf("variant %s needs -template", p.variant.Name)
		}
		if initPts, err = dataset.LoadTemplate(*template); err != nil {
			return err
		}
	}

	res, err := m.ForwardExample(img, initPts)
	if err != nil {
		return err
	}

	first := mesh.NumLevels - 1
	if *allStages {
		first = 0
	}
	var meshes []mesh.NamedMesh
	for i := mesh.NumLevels - 1; i >= first; i-- {
		meshes = append(meshes, mesh.NamedMesh{
			Name:     fmt.Sprintf("stage%d", i+1),
			Vertices: worldVertices(cam, res.Coords[i]),
			Faces:    p.topo.Levels[i].Faces,
		})
	}
	if err := mesh.Export(*out, meshes...); err != nil {
		return err
	}
	logger.Info("mesh exported",
		zap.String("image", *imagePath),
		zap.String("path", *out),
		zap.Int("vertices", len(meshes[0].Vertices)),
	)
	return nil
}

// worldVertices maps offset-space coordinates back to camera space.
func worldVertices(cam camera.Params, coords *mat.Dense) []vec3.T {
	vs := mesh.VerticesFromDense(coords)
	for i := range vs {
		vs[i] = cam.WorldPosition(vs[i])
	}
	return vs
}

func cmdEvaluate(args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	pf := bindPipelineFlags(fs)
	list := fs.String("list", "", "Sample list: <image> <cloud> [template] per line")
	tau := fs.Float64("tau", loss.DefaultTau, "F-score squared-distance threshold")
	seed := fs.Uint64("seed", 0, "Resampling seed")
	fs.Parse(args)

	if *list == "" {
		return errors.New("usage: p2m evaluate -list <samples.txt>")
	}
	samples, err := readSampleListFile(*list)
	if err != nil {
		return err
	}
	p, err := setup(pf)
	if err != nil {
		return err
	}
	defer logger.Sync()

	crit, err := loss.New(p.cfg.Loss.Weights, p.topo)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(*seed, *seed))
	data, m := p.variant.Data, p.variant.Model

	var total loss.Accumulator
	perClass := map[string]*loss.Accumulator{}
	var lossSum float64
	for i, s := range samples {
		ex, err := data.Load(s)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		batch, err := data.Collate([]dataset.Example{*ex}, rng)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		out, err := m.Forward(batch)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		l, summary, err := crit.Compute(out, batch)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		lossSum += l

		metrics, err := loss.Evaluate(out.PredCoord[mesh.NumLevels-1][0], batch.PointsOrig[0], *tau)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		total.Add(metrics)

		class, _, ok := dataset.ClassOf(filepath.ToSlash(s.Cloud))
		if !ok {
			class = "(none)"
		}
		acc := perClass[class]
		if acc == nil {
			acc = &loss.Accumulator{}
			perClass[class] = acc
		}
		acc.Add(metrics)

		logger.Debug("sample evaluated",
			zap.String("cloud", s.Cloud),
			zap.Float64(loss.KeyTotal, l),
			zap.Float64(loss.KeyChamfer, summary[loss.KeyChamfer]),
			zap.Float64("f_score", metrics.FScoreTau),
		)
	}

	classes := make([]string, 0, len(perClass))
	for c := range perClass {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	fmt.Printf("  %-12s %6s %12s %10s %10s\n", "class", "count", "chamfer", "f(tau)", "f(2tau)")
	for _, c := range classes {
		printMetrics(c, perClass[c])
	}
	printMetrics("all", &total)
	if total.Count() > 0 {
		fmt.Printf("\nMean loss: %.6f\n", lossSum/float64(total.Count()))
	}
	return nil
}

func printMetrics(name string, acc *loss.Accumulator) {
	m := acc.Mean()
	fmt.Printf("  %-12s %6d %12.6f %10.4f %10.4f\n", name, acc.Count(), m.Chamfer, m.FScoreTau, m.FScore2Tau)
}

func cmdCategories(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: p2m categories <list.txt>")
	}
	cats, err := dataset.ReadCategoriesFile(args[0])
	if err != nil {
		return err
	}
	labels := cats.Labels()
	fmt.Printf("  %-12s %6s %10s\n", "class", "label", "instances")
	for _, c := range cats.Classes() {
		fmt.Printf("  %-12s %6d %10d\n", c, labels[c], len(cats[c]))
	}
	return nil
}
