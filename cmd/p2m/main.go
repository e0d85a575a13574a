// p2m is a CLI utility for Pixel2Mesh topologies, checkpoints and inference.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "info":
		err = cmdInfo(args)
	case "gen-ellipsoid", "gen":
		err = cmdGenEllipsoid(args)
	case "init-config":
		err = cmdInitConfig(args)
	case "init-checkpoint":
		err = cmdInitCheckpoint(args)
	case "predict":
		err = cmdPredict(args)
	case "evaluate", "eval":
		err = cmdEvaluate(args)
	case "categories":
		err = cmdCategories(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`p2m - Pixel2Mesh mesh reconstruction utility

Usage:
  p2m <command> [options]

Commands:
  info <file.p2mt|file.p2mc>           Show topology or checkpoint information
  gen-ellipsoid [-out file.p2mt]       Generate the initial ellipsoid topology
  init-config [-out p2m.yaml]          Write the default configuration
  init-checkpoint [-out model.p2mc]    Write a freshly initialised checkpoint
  predict -image img.png [-out m.glb]  Reconstruct a mesh from one image
  evaluate -list samples.txt           Score predictions against point clouds
  categories <list.txt>                Count classes and instances in a file list

Common options (init-checkpoint, predict, evaluate):
  -config path     Configuration file
  -topology path   Topology file (default: generated ellipsoid)
  -backbone name   Image backbone
  -checkpoint path Checkpoint to restore
  -tf              Use the legacy projection sampler
  -debug           Enable debug logging

Examples:
  p2m gen-ellipsoid -out ellipsoid.p2mt
  p2m info ellipsoid.p2mt
  p2m predict -topology ellipsoid.p2mt -checkpoint model.p2mc -image chair.png -out chair.glb
  p2m evaluate -checkpoint model.p2mc -list test_list.txt`)
}
