// iggen trains markov models from a CSV of example phrases and writes
// them as a model file ready to be served to the igg server.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/natefinch/atomic"

	"github.com/mesolimbo/igg/pkg/markov"
)

type modelIndex struct {
	Models []string `json:"models"`
}

func main() {
	inPath := flag.String("in", "", "path to the input CSV file (one phrase column per model)")
	outPath := flag.String("out", "", "path to write the trained model file to")
	indexPath := flag.String("index", "", "optional index.json to register the model in")
	name := flag.String("name", "", "model name for the index (defaults to the output file name)")
	flag.Parse()

	if *inPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: iggen -in phrases.csv -out model.json [-index index.json] [-name model.json]")
		os.Exit(2)
	}

	modelName := *name
	if modelName == "" {
		modelName = filepath.Base(*outPath)
	}
	if err := markov.ValidateModelName(modelName); err != nil {
		fmt.Fprintf(os.Stderr, "invalid model name %q: %v\n", modelName, err)
		os.Exit(1)
	}

	if err := train(*inPath, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "training failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", *outPath)

	if *indexPath != "" {
		if err := updateIndex(*indexPath, modelName); err != nil {
			fmt.Fprintf(os.Stderr, "failed to update index: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("registered %q in %s\n", modelName, *indexPath)
	}
}

func train(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer func() {
		_ = in.Close()
	}()

	models, err := markov.TrainColumns(in)
	if err != nil {
		return fmt.Errorf("failed to train models: %w", err)
	}

	var buf bytes.Buffer
	if err = markov.EncodeModels(&buf, models); err != nil {
		return fmt.Errorf("failed to encode models: %w", err)
	}
	if err = atomic.WriteFile(outPath, &buf); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}
	return nil
}

// updateIndex adds the model name to the index file, creating the file if
// it doesn't exist yet. Re-registering an existing name is a no-op.
func updateIndex(indexPath, modelName string) error {
	var index modelIndex

	data, err := os.ReadFile(indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read index: %w", err)
		}
	} else if err = json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("failed to parse index: %w", err)
	}

	if slices.Contains(index.Models, modelName) {
		return nil
	}
	index.Models = append(index.Models, modelName)
	slices.Sort(index.Models)

	out, err := json.MarshalIndent(&index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err = atomic.WriteFile(indexPath, bytes.NewReader(out)); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}
