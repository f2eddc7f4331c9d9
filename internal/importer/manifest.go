// Package importer reads nesting inputs: closed outlines from DXF drawings,
// and job manifests (CSV or Excel) that list drawings with their quantities.
// Manifests support automatic delimiter detection, flexible column mapping,
// and case-insensitive header recognition.
package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ManifestEntry is one drawing to nest and how many copies of each of its
// outlines to cut.
type ManifestEntry struct {
	Path     string
	Label    string
	Quantity int
}

// ManifestResult holds the results of a manifest import.
type ManifestResult struct {
	Entries  []ManifestEntry
	Errors   []string
	Warnings []string
}

// ColumnMapping maps semantic column roles to their indices in the data.
type ColumnMapping struct {
	File     int
	Quantity int
	Label    int
}

// headerAliases maps canonical column names to their accepted aliases (all lowercase).
var headerAliases = map[string][]string{
	"file":     {"file", "filename", "file name", "drawing", "dxf", "path"},
	"quantity": {"quantity", "qty", "count", "num", "amount", "pcs", "pieces"},
	"label":    {"label", "name", "part", "part name", "description", "desc"},
}

// DetectCSVDelimiter reads the file content and determines the most likely CSV delimiter.
// It tries comma, semicolon, tab, and pipe. The delimiter that produces the most
// consistent (non-one) column count across lines wins.
func DetectCSVDelimiter(data []byte) rune {
	candidates := []rune{',', ';', '\t', '|'}
	bestDelimiter := ','
	bestScore := 0

	for _, delim := range candidates {
		reader := csv.NewReader(bytes.NewReader(data))
		reader.Comma = delim
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		records, err := reader.ReadAll()
		if err != nil || len(records) < 1 {
			continue
		}

		firstCols := len(records[0])
		if firstCols < 2 {
			continue
		}

		score := 0
		for _, row := range records {
			if len(row) == firstCols {
				score++
			}
		}

		weighted := score*10 + firstCols
		if weighted > bestScore {
			bestScore = weighted
			bestDelimiter = delim
		}
	}

	return bestDelimiter
}

// DetectColumns examines a header row and returns a ColumnMapping.
// Returns the mapping and true if a header was detected, or the positional
// mapping (file, quantity, label) and false if no header was found.
func DetectColumns(row []string) (ColumnMapping, bool) {
	mapping := ColumnMapping{File: -1, Quantity: -1, Label: -1}

	isHeader := false
	for i, cell := range row {
		normalized := strings.ToLower(strings.TrimSpace(cell))
		for role, aliases := range headerAliases {
			for _, alias := range aliases {
				if normalized != alias {
					continue
				}
				isHeader = true
				switch role {
				case "file":
					if mapping.File == -1 {
						mapping.File = i
					}
				case "quantity":
					if mapping.Quantity == -1 {
						mapping.Quantity = i
					}
				case "label":
					if mapping.Label == -1 {
						mapping.Label = i
					}
				}
			}
		}
	}

	if !isHeader {
		return ColumnMapping{File: 0, Quantity: 1, Label: 2}, false
	}
	return mapping, true
}

// getCell safely retrieves a cell value from a row by column index.
func getCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// parseRow extracts a ManifestEntry from a row. Relative drawing paths are
// resolved against baseDir.
func parseRow(row []string, mapping ColumnMapping, rowLabel, baseDir string) (ManifestEntry, string) {
	file := getCell(row, mapping.File)
	if file == "" {
		return ManifestEntry{}, fmt.Sprintf("%s: Missing file value", rowLabel)
	}
	if baseDir != "" && !filepath.IsAbs(file) {
		file = filepath.Join(baseDir, file)
	}

	qty := 1
	if qtyStr := getCell(row, mapping.Quantity); qtyStr != "" {
		n, err := strconv.Atoi(qtyStr)
		if err != nil {
			return ManifestEntry{}, fmt.Sprintf("%s: Invalid quantity '%s'", rowLabel, qtyStr)
		}
		if n < 0 {
			return ManifestEntry{}, fmt.Sprintf("%s: Quantity must not be negative", rowLabel)
		}
		qty = n
	}

	label := getCell(row, mapping.Label)
	if label == "" {
		label = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	return ManifestEntry{Path: file, Label: label, Quantity: qty}, ""
}

// ImportManifestCSV imports a job manifest from a CSV file. Drawing paths
// are resolved relative to the manifest's directory.
func ImportManifestCSV(path string) ManifestResult {
	result := ManifestResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Cannot open file: %v", err))
		return result
	}

	if len(bytes.TrimSpace(data)) == 0 {
		result.Errors = append(result.Errors, "File is empty")
		return result
	}

	delimiter := DetectCSVDelimiter(data)
	var warnings []string
	if delimiter != ',' {
		delimName := map[rune]string{';': "semicolon", '\t': "tab", '|': "pipe"}[delimiter]
		warnings = append(warnings, fmt.Sprintf("Detected %s delimiter", delimName))
	}

	records, err := readCSV(bytes.NewReader(data), delimiter)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Cannot read CSV: %v", err))
		return result
	}

	return importFromRows(records, "Line", filepath.Dir(path), warnings)
}

// ImportManifestCSVFromReader imports a manifest from a CSV reader with a
// known delimiter. Paths are returned as written.
func ImportManifestCSVFromReader(reader io.Reader, delimiter rune) ManifestResult {
	records, err := readCSV(reader, delimiter)
	if err != nil {
		return ManifestResult{Errors: []string{fmt.Sprintf("Cannot read CSV: %v", err)}}
	}
	return importFromRows(records, "Line", "", nil)
}

func readCSV(r io.Reader, delimiter rune) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

// ImportManifestExcel imports a job manifest from the first sheet of an
// Excel workbook.
func ImportManifestExcel(path string) ManifestResult {
	result := ManifestResult{}

	f, err := excelize.OpenFile(path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Cannot open Excel file: %v", err))
		return result
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		result.Errors = append(result.Errors, "Excel file has no sheets")
		return result
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Cannot read Excel data: %v", err))
		return result
	}

	return importFromRows(rows, "Row", filepath.Dir(path), nil)
}

// ImportManifest dispatches on the file extension.
func ImportManifest(path string) ManifestResult {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ImportManifestExcel(path)
	case ".xls":
		return ManifestResult{Errors: []string{"Legacy .xls workbooks are not supported; save the manifest as .xlsx or CSV"}}
	default:
		return ImportManifestCSV(path)
	}
}

// importFromRows is the shared import logic for both CSV and Excel data.
func importFromRows(rows [][]string, rowPrefix, baseDir string, initialWarnings []string) ManifestResult {
	result := ManifestResult{Warnings: initialWarnings}

	if len(rows) == 0 {
		result.Errors = append(result.Errors, "No data rows found")
		return result
	}

	mapping, hasHeader := DetectColumns(rows[0])
	startRow := 0
	if hasHeader {
		startRow = 1
		result.Warnings = append(result.Warnings, "Detected header row, skipping")
		if mapping.File == -1 {
			result.Errors = append(result.Errors, "Required columns not found in header: File")
			return result
		}
	}

	for i := startRow; i < len(rows); i++ {
		row := rows[i]
		if isEmptyRow(row) {
			continue
		}

		entry, errMsg := parseRow(row, mapping, fmt.Sprintf("%s %d", rowPrefix, i+1), baseDir)
		if errMsg != "" {
			result.Errors = append(result.Errors, errMsg)
			continue
		}
		result.Entries = append(result.Entries, entry)
	}

	return result
}
