package template

import "github.com/normanking/lipsync/internal/viseme"

// Empirically captured vowel templates, 12 cepstral coefficients per
// frame at a 25 ms window / 10 ms hop. Two variants per vowel cover
// the spread observed across speakers; values are calibration data and
// may be replaced wholesale through a calibration bank.
var seedTemplates = map[viseme.Viseme][]Template{
	viseme.VisemeA: {
		{Frames: [][]float64{
			{18.2, -4.1, 2.8, -1.9, 0.7, -2.3, 1.1, -0.8, 0.4, -0.6, 0.3, -0.2},
			{19.6, -4.8, 3.2, -2.1, 0.9, -2.6, 1.3, -0.9, 0.5, -0.7, 0.3, -0.3},
			{18.9, -4.4, 3.0, -2.0, 0.8, -2.4, 1.2, -0.8, 0.4, -0.6, 0.3, -0.2},
		}},
		{Frames: [][]float64{
			{16.8, -3.6, 2.4, -1.6, 0.6, -2.0, 0.9, -0.7, 0.4, -0.5, 0.2, -0.2},
			{17.9, -4.0, 2.7, -1.8, 0.7, -2.2, 1.0, -0.8, 0.4, -0.6, 0.3, -0.2},
		}},
	},
	viseme.VisemeI: {
		{Frames: [][]float64{
			{12.4, 6.2, -3.8, 2.6, -1.4, 0.9, -1.8, 1.2, -0.6, 0.4, -0.3, 0.2},
			{13.1, 6.8, -4.2, 2.9, -1.6, 1.0, -2.0, 1.3, -0.7, 0.5, -0.3, 0.2},
			{12.7, 6.5, -4.0, 2.7, -1.5, 0.9, -1.9, 1.2, -0.6, 0.4, -0.3, 0.2},
		}},
		{Frames: [][]float64{
			{11.6, 5.7, -3.4, 2.3, -1.2, 0.8, -1.6, 1.1, -0.5, 0.4, -0.2, 0.2},
			{12.2, 6.0, -3.7, 2.5, -1.3, 0.8, -1.7, 1.1, -0.6, 0.4, -0.3, 0.2},
		}},
	},
	viseme.VisemeU: {
		{Frames: [][]float64{
			{10.8, -6.4, -2.2, 1.4, 2.1, -0.8, -1.1, 0.7, 0.9, -0.4, -0.3, 0.2},
			{11.5, -6.9, -2.5, 1.6, 2.3, -0.9, -1.2, 0.8, 1.0, -0.5, -0.3, 0.2},
			{11.1, -6.6, -2.3, 1.5, 2.2, -0.8, -1.1, 0.7, 0.9, -0.4, -0.3, 0.2},
		}},
		{Frames: [][]float64{
			{10.1, -5.9, -1.9, 1.2, 1.9, -0.7, -1.0, 0.6, 0.8, -0.4, -0.2, 0.1},
			{10.6, -6.2, -2.1, 1.3, 2.0, -0.8, -1.0, 0.7, 0.8, -0.4, -0.3, 0.2},
		}},
	},
	viseme.VisemeE: {
		{Frames: [][]float64{
			{15.3, 2.8, -1.6, 1.9, -2.2, 1.4, -0.9, 0.6, -0.8, 0.5, -0.3, 0.2},
			{16.1, 3.1, -1.8, 2.1, -2.4, 1.5, -1.0, 0.7, -0.9, 0.5, -0.3, 0.2},
			{15.7, 2.9, -1.7, 2.0, -2.3, 1.4, -0.9, 0.6, -0.8, 0.5, -0.3, 0.2},
		}},
		{Frames: [][]float64{
			{14.4, 2.4, -1.3, 1.7, -1.9, 1.2, -0.8, 0.5, -0.7, 0.4, -0.3, 0.2},
			{15.0, 2.6, -1.5, 1.8, -2.1, 1.3, -0.9, 0.6, -0.7, 0.4, -0.3, 0.2},
		}},
	},
	viseme.VisemeO: {
		{Frames: [][]float64{
			{14.7, -5.2, 1.8, 0.9, -1.6, -1.2, 0.8, 0.5, -0.6, -0.4, 0.3, 0.2},
			{15.4, -5.6, 2.0, 1.0, -1.8, -1.3, 0.9, 0.6, -0.7, -0.5, 0.3, 0.2},
			{15.0, -5.4, 1.9, 0.9, -1.7, -1.2, 0.8, 0.5, -0.6, -0.4, 0.3, 0.2},
		}},
		{Frames: [][]float64{
			{13.8, -4.7, 1.5, 0.8, -1.4, -1.0, 0.7, 0.4, -0.5, -0.4, 0.2, 0.1},
			{14.3, -5.0, 1.7, 0.8, -1.5, -1.1, 0.7, 0.5, -0.6, -0.4, 0.3, 0.2},
		}},
	},
	viseme.Silence: {
		{Frames: [][]float64{
			{0.4, 0.1, -0.1, 0.1, 0.0, -0.1, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0},
			{0.3, 0.1, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0},
		}},
	},
}

// Default returns the pre-seeded bank. Construction cannot fail: the
// seed data is validated by the package tests.
func Default() *Bank {
	bank, err := Load(seedTemplates)
	if err != nil {
		panic("template: invalid seed data: " + err.Error())
	}
	return bank
}
