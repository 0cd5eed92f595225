package summarizer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf16"

	"github.com/extrame/xls"
	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
)

// maxXLSCols is the BIFF8 column limit, used when a row carries no bounds.
const maxXLSCols = 256

// extractXLS reads every sheet of a BIFF workbook, one row per line.
func extractXLS(path string) (text string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// the parser panics on truncated records
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse xls: %v", r)
		}
	}()

	wb, err := xls.OpenReader(f, "utf-8")
	if err != nil {
		return "", fmt.Errorf("open xls: %w", err)
	}
	if wb == nil {
		return "", errors.New("xls has no workbook stream")
	}

	var b strings.Builder
	rows := 0
	for i := 0; i < wb.NumSheets() && rows <= maxTableRows; i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		for r := 0; r <= int(sheet.MaxRow) && rows <= maxTableRows; r++ {
			row := sheetRow(sheet, r)
			if row == nil {
				continue
			}
			last := row.LastCol()
			if last <= 0 || last > maxXLSCols {
				last = maxXLSCols
			}
			var cells []string
			for c := row.FirstCol(); c < last; c++ {
				if v := strings.TrimSpace(row.Col(c)); v != "" {
					cells = append(cells, v)
				}
			}
			if len(cells) == 0 {
				continue
			}
			writeRow(&b, cells)
			rows++
		}
	}
	return b.String(), nil
}

// sheetRow returns nil for rows the sheet never stored.
func sheetRow(s *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return s.Row(i)
}

const (
	wordIdent       = 0xA5EC
	wordFlagTable1  = 0x0200
	wordFlagEncrypt = 0x0100
	pieceCompressed = 0x40000000
)

// extractDOC reads the main story of a Word 97-2003 document through its
// piece table.
func extractDOC(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	doc, err := mscfb.New(f)
	if err != nil {
		return "", fmt.Errorf("open doc: %w", err)
	}

	streams := make(map[string][]byte)
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		switch entry.Name {
		case "WordDocument", "0Table", "1Table":
			data, rerr := io.ReadAll(entry)
			if rerr != nil {
				return "", fmt.Errorf("read %s stream: %w", entry.Name, rerr)
			}
			streams[entry.Name] = data
		}
	}
	return wordText(streams)
}

var errMalformedDOC = errors.New("malformed doc")

func wordText(streams map[string][]byte) (string, error) {
	wd := streams["WordDocument"]
	if len(wd) < 64 || binary.LittleEndian.Uint16(wd) != wordIdent {
		return "", fmt.Errorf("%w: no WordDocument stream", errMalformedDOC)
	}
	flags := binary.LittleEndian.Uint16(wd[10:])
	if flags&wordFlagEncrypt != 0 {
		return "", errors.New("doc is encrypted")
	}
	tableName := "0Table"
	if flags&wordFlagTable1 != 0 {
		tableName = "1Table"
	}
	table, ok := streams[tableName]
	if !ok {
		return "", fmt.Errorf("%w: no %s stream", errMalformedDOC, tableName)
	}

	// FibBase, then the length-prefixed FibRgW, FibRgLw and FibRgFcLcb blocks
	pos := 32
	csw, ok := u16(wd, pos)
	if !ok {
		return "", errMalformedDOC
	}
	pos += 2 + int(csw)*2
	cslw, ok := u16(wd, pos)
	if !ok {
		return "", errMalformedDOC
	}
	rgLw := pos + 2
	pos = rgLw + int(cslw)*4
	ccpText, ok := u32(wd, rgLw+12)
	if !ok {
		return "", errMalformedDOC
	}
	rgFcLcb := pos + 2
	fcClx, ok1 := u32(wd, rgFcLcb+33*8)
	lcbClx, ok2 := u32(wd, rgFcLcb+33*8+4)
	if !ok1 || !ok2 || uint64(fcClx)+uint64(lcbClx) > uint64(len(table)) {
		return "", errMalformedDOC
	}

	plc, err := piecePLC(table[fcClx : fcClx+lcbClx])
	if err != nil {
		return "", err
	}
	n := (len(plc) - 4) / 12
	var b strings.Builder
	for i := 0; i < n; i++ {
		cpStart := binary.LittleEndian.Uint32(plc[i*4:])
		cpEnd := binary.LittleEndian.Uint32(plc[(i+1)*4:])
		if cpStart >= ccpText || cpEnd <= cpStart {
			continue
		}
		if cpEnd > ccpText {
			cpEnd = ccpText
		}
		count := int(cpEnd - cpStart)
		fc := binary.LittleEndian.Uint32(plc[4*(n+1)+8*i+2:])

		if fc&pieceCompressed != 0 {
			off := int((fc &^ pieceCompressed) / 2)
			if off+count > len(wd) {
				return "", errMalformedDOC
			}
			s, err := charmap.Windows1252.NewDecoder().Bytes(wd[off : off+count])
			if err != nil {
				return "", fmt.Errorf("decode piece %d: %w", i, err)
			}
			b.Write(s)
			continue
		}
		off := int(fc)
		if off+2*count > len(wd) {
			return "", errMalformedDOC
		}
		units := make([]uint16, count)
		for j := range units {
			units[j] = binary.LittleEndian.Uint16(wd[off+2*j:])
		}
		b.WriteString(string(utf16.Decode(units)))
	}
	return cleanWordText(b.String()), nil
}

// piecePLC skips the property runs of a Clx and returns its PlcPcd.
func piecePLC(clx []byte) ([]byte, error) {
	i := 0
	for i < len(clx) && clx[i] == 0x01 {
		size, ok := u16(clx, i+1)
		if !ok {
			return nil, errMalformedDOC
		}
		i += 3 + int(size)
	}
	if i >= len(clx) || clx[i] != 0x02 {
		return nil, fmt.Errorf("%w: no piece table", errMalformedDOC)
	}
	lcb, ok := u32(clx, i+1)
	if !ok || i+5+int(lcb) > len(clx) || lcb < 16 || (lcb-4)%12 != 0 {
		return nil, fmt.Errorf("%w: bad piece table", errMalformedDOC)
	}
	return clx[i+5 : i+5+int(lcb)], nil
}

// cleanWordText maps Word control characters to plain text and keeps only
// the displayed result of fields.
func cleanWordText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	// one entry per open field, true while still inside its code part
	var fields []bool
	hidden := 0
	for _, r := range s {
		switch r {
		case 0x13:
			fields = append(fields, true)
			hidden++
			continue
		case 0x14:
			if n := len(fields); n > 0 && fields[n-1] {
				fields[n-1] = false
				hidden--
			}
			continue
		case 0x15:
			if n := len(fields); n > 0 {
				if fields[n-1] {
					hidden--
				}
				fields = fields[:n-1]
			}
			continue
		}
		if hidden > 0 {
			continue
		}
		switch r {
		case '\r', 0x0B, 0x0C:
			b.WriteByte('\n')
		case 0x07:
			b.WriteByte('\t')
		case '\t', '\n':
			b.WriteRune(r)
		default:
			if r >= 0x20 {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func u16(b []byte, off int) (uint16, bool) {
	if off < 0 || off+2 > len(b) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b[off:]), true
}

func u32(b []byte, off int) (uint32, bool) {
	if off < 0 || off+4 > len(b) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[off:]), true
}
