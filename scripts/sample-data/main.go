package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

type args struct {
	Output   string  `arg:"-o,--output" default:"data/sample.csv" help:"output file, .csv or .xlsx"`
	Rows     int     `arg:"-n,--rows" default:"2400" help:"number of rows"`
	Features int     `arg:"-f,--features" default:"4" help:"number of numeric feature columns"`
	Noise    float64 `arg:"--noise" default:"0.1" help:"noise added to the target"`
	Seed     int64   `arg:"--seed" default:"42" help:"random seed"`
}

func (args) Description() string {
	return "Generates a synthetic regression table with Date, LIST_NUMBER, feature and TARGET columns."
}

func main() {
	var a args
	arg.MustParse(&a)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if a.Rows < 1 || a.Features < 1 {
		log.Fatal().Int("rows", a.Rows).Int("features", a.Features).Msg("rows and features must be positive")
	}

	header, rows := generate(a.Rows, a.Features, a.Noise, rand.New(rand.NewSource(a.Seed)))

	if dir := filepath.Dir(a.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Msg("failed to create output directory")
		}
	}

	var err error
	if strings.EqualFold(filepath.Ext(a.Output), ".xlsx") {
		err = writeXLSX(a.Output, header, rows)
	} else {
		err = writeCSV(a.Output, header, rows)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write sample data")
	}

	log.Info().
		Str("file", a.Output).
		Int("rows", a.Rows).
		Int("features", a.Features).
		Msg("Sample data generated")
}

// generate builds rows whose target mixes a trend, a seasonal term and a
// linear combination of autocorrelated features.
func generate(n, width int, noise float64, rng *rand.Rand) ([]string, [][]string) {
	header := []string{"Date", "LIST_NUMBER"}
	for j := 0; j < width; j++ {
		header = append(header, fmt.Sprintf("x%d", j+1))
	}
	header = append(header, "TARGET")

	weights := make([]float64, width)
	for j := range weights {
		weights[j] = rng.Float64()*2 - 1
	}
	state := make([]float64, width)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		row := []string{start.AddDate(0, 0, i).Format("2006-01-02"), strconv.Itoa(i + 1)}

		target := 0.01*float64(i) + math.Sin(2*math.Pi*float64(i)/30)
		for j := range state {
			state[j] = 0.8*state[j] + rng.NormFloat64()
			target += weights[j] * state[j]
			row = append(row, strconv.FormatFloat(state[j], 'f', 6, 64))
		}
		target += noise * rng.NormFloat64()

		rows[i] = append(row, strconv.FormatFloat(target, 'f', 6, 64))
	}
	return header, rows
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}

func writeXLSX(path string, header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	write := func(r int, values []string) error {
		cells := make([]interface{}, len(values))
		for i, v := range values {
			if num, err := strconv.ParseFloat(v, 64); err == nil && i > 0 {
				cells[i] = num
			} else {
				cells[i] = v
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r)
		if err != nil {
			return err
		}
		return f.SetSheetRow(sheet, cell, &cells)
	}

	if err := write(1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := write(i+2, row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
