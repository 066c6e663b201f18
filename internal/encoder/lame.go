package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultLameBinary is looked up on PATH when no locator is configured.
const DefaultLameBinary = "lame"

// LookupLame resolves the lame binary from an explicit path or PATH.
func LookupLame(locator string) (string, error) {
	if locator == "" {
		locator = DefaultLameBinary
	}
	path, err := exec.LookPath(locator)
	if err != nil {
		return "", fmt.Errorf("lame encoder not found at %q: %w", locator, err)
	}
	return path, nil
}

// LameFactory returns a CodecFactory that starts one lame process per job.
func LameFactory(path string) CodecFactory {
	return func(opts Options) (Codec, error) {
		return NewLameCodec(path, opts)
	}
}

// LameCodec streams raw PCM through a lame process.
type LameCodec struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	group errgroup.Group

	mu  sync.Mutex
	out bytes.Buffer

	channels int
	pcm      []byte
	finished bool
}

// lameArgs builds the command line for raw signed 16-bit little endian input.
func lameArgs(opts Options) []string {
	mode := "m"
	if opts.ChannelCount > 1 {
		mode = "j"
	}
	return []string{
		"--quiet",
		"-r",
		"-s", strconv.FormatFloat(float64(opts.SampleRate)/1000, 'f', -1, 64),
		"--bitwidth", "16",
		"--signed",
		"--little-endian",
		"-m", mode,
		"-b", strconv.Itoa(opts.BitRate),
		"-", "-",
	}
}

// NewLameCodec starts lame at path configured for opts.
func NewLameCodec(path string, opts Options) (*LameCodec, error) {
	opts = opts.withDefaults()

	cmd := exec.Command(path, lameArgs(opts)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get lame stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get lame stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start lame process: %w", err)
	}

	c := &LameCodec{
		cmd:      cmd,
		stdin:    stdin,
		channels: min(opts.ChannelCount, 2),
	}
	c.group.Go(func() error {
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				c.mu.Lock()
				c.out.Write(buf[:n])
				c.mu.Unlock()
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read lame output: %w", err)
			}
		}
	})
	return c, nil
}

// Encode writes one block to lame and returns the output produced so far.
func (c *LameCodec) Encode(left, right []int16) ([]byte, error) {
	if c.finished {
		return nil, fmt.Errorf("lame codec already flushed")
	}

	frames := len(left)
	stereo := c.channels > 1 && right != nil
	size := frames * 2
	if stereo {
		size *= 2
	}
	if cap(c.pcm) < size {
		c.pcm = make([]byte, size)
	}
	pcm := c.pcm[:size]

	for i := 0; i < frames; i++ {
		if stereo {
			binary.LittleEndian.PutUint16(pcm[i*4:], uint16(left[i]))
			var r int16
			if i < len(right) {
				r = right[i]
			}
			binary.LittleEndian.PutUint16(pcm[i*4+2:], uint16(r))
		} else {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(left[i]))
		}
	}

	if _, err := c.stdin.Write(pcm); err != nil {
		return nil, fmt.Errorf("write pcm to lame: %w", err)
	}
	return c.take(), nil
}

// Flush closes lame's input and waits for the rest of the bitstream.
func (c *LameCodec) Flush() ([]byte, error) {
	if c.finished {
		return nil, nil
	}
	c.finished = true

	if err := c.stdin.Close(); err != nil {
		return nil, fmt.Errorf("close lame stdin: %w", err)
	}
	if err := c.group.Wait(); err != nil {
		return nil, err
	}
	if err := c.cmd.Wait(); err != nil {
		return nil, fmt.Errorf("lame exited: %w", err)
	}
	return c.take(), nil
}

// Close kills lame if it was never flushed.
func (c *LameCodec) Close() error {
	if c.finished {
		return nil
	}
	c.finished = true

	c.stdin.Close()
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.group.Wait()
	c.cmd.Wait()
	return nil
}

func (c *LameCodec) take() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out.Len() == 0 {
		return nil
	}
	data := make([]byte, c.out.Len())
	copy(data, c.out.Bytes())
	c.out.Reset()
	return data
}
