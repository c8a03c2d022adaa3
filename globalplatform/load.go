package globalplatform

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/status-im/keycard-proto/apdu"
)

// CAP components in load order.
var internalFiles = []string{
	"Header", "Directory", "Import", "Applet", "Class",
	"Method", "StaticField", "Export", "ConstantPool", "RefLocation",
}

// 255 minus the C-MAC
const blockSize = apdu.MaxShortLc - macLength

// LoadCommandStream splits a CAP file into LOAD commands.
type LoadCommandStream struct {
	data         *bytes.Reader
	currentIndex uint8
	currentData  []byte
	p1           uint8
	blocksCount  int
}

// NewLoadCommandStream reads the CAP file (a zip archive) from r.
func NewLoadCommandStream(r io.ReaderAt, size int64) (*LoadCommandStream, error) {
	files, err := loadFiles(r, size)
	if err != nil {
		return nil, err
	}

	data := encodeFilesData(files)

	return &LoadCommandStream{
		data:        bytes.NewReader(data),
		p1:          P1LoadMoreBlocks,
		blocksCount: (len(data) + blockSize - 1) / blockSize,
	}, nil
}

func (lcs *LoadCommandStream) BlocksCount() int {
	return lcs.blocksCount
}

// Next prepares the next block, it returns false when the whole file has been consumed.
func (lcs *LoadCommandStream) Next() bool {
	if lcs.data.Len() == 0 {
		return false
	}

	buf := make([]byte, blockSize)
	n, err := lcs.data.Read(buf)
	if err != nil {
		return false
	}

	lcs.currentData = buf[:n]
	lcs.currentIndex++

	if lcs.data.Len() == 0 {
		lcs.p1 = P1LoadLastBlock
	}

	return true
}

// Index returns the index of the current block.
func (lcs *LoadCommandStream) Index() uint8 {
	return lcs.currentIndex - 1
}

func (lcs *LoadCommandStream) GetCommand() *apdu.Command {
	return NewCommandLoad(lcs.p1, lcs.Index(), lcs.currentData)
}

func loadFiles(r io.ReaderAt, size int64) (map[string][]byte, error) {
	z, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}

	files := make(map[string][]byte)
	for _, item := range z.File {
		name := strings.TrimSuffix(path.Base(item.Name), ".cap")

		f, err := item.Open()
		if err != nil {
			return nil, err
		}

		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}

		files[name] = data
	}

	return files, nil
}

func encodeFilesData(files map[string][]byte) []byte {
	var filesData bytes.Buffer
	for _, name := range internalFiles {
		if data, ok := files[name]; ok {
			filesData.Write(data)
		}
	}

	var buf bytes.Buffer
	buf.WriteByte(tagLoadFileDataBlock)
	apdu.WriteLength(&buf, uint32(filesData.Len()))
	buf.Write(filesData.Bytes())

	return buf.Bytes()
}
