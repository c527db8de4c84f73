package service

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Stitcher losslessly concatenates same-format clips with ffmpeg's concat
// demuxer. All clips come from the same generation service with fixed
// parameters, so stream copy needs no re-encoding. The binaries are located
// once per process; each run gets its own working directory which is removed
// when the run ends, success or failure.
type Stitcher struct {
	once        sync.Once
	ffmpegPath  string
	ffprobePath string
	lookupErr   error
}

func NewStitcher() *Stitcher {
	return &Stitcher{}
}

func (s *Stitcher) locate() error {
	s.once.Do(func() {
		s.ffmpegPath, s.lookupErr = exec.LookPath("ffmpeg")
		if s.lookupErr != nil {
			s.lookupErr = fmt.Errorf("ffmpeg not found in PATH: %w", s.lookupErr)
			return
		}
		// ffprobe is optional; without it the processing phase reports an
		// indeterminate midpoint instead of fine-grained progress.
		s.ffprobePath, _ = exec.LookPath("ffprobe")
	})
	return s.lookupErr
}

// Stitch concatenates the clips in order and returns the output bytes.
// progress, when non-nil, receives a 0-100 value: 0-30 while inputs are
// written, 30-90 mapped from ffmpeg's own progress stream, 90-100 for
// read-back and cleanup. A single clip is returned unchanged without
// invoking ffmpeg.
func (s *Stitcher) Stitch(ctx context.Context, clips [][]byte, progress func(int)) ([]byte, error) {
	if len(clips) == 0 {
		return nil, fmt.Errorf("no clips to stitch")
	}
	report := func(p int) {
		if progress != nil {
			progress(p)
		}
	}
	if len(clips) == 1 {
		report(100)
		return clips[0], nil
	}

	if err := s.locate(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "stitch-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir failed: %w", err)
	}
	defer os.RemoveAll(workDir)

	var listLines []string
	for i, clip := range clips {
		name := fmt.Sprintf("input%02d.mp4", i)
		if err := os.WriteFile(filepath.Join(workDir, name), clip, 0644); err != nil {
			return nil, fmt.Errorf("write clip %d failed: %w", i+1, err)
		}
		listLines = append(listLines, fmt.Sprintf("file '%s'", name))
		report((i + 1) * 30 / len(clips))
	}

	listFile := filepath.Join(workDir, "concat.txt")
	if err := os.WriteFile(listFile, []byte(strings.Join(listLines, "\n")), 0644); err != nil {
		return nil, fmt.Errorf("write concat list failed: %w", err)
	}

	totalDuration := s.totalDuration(ctx, workDir, len(clips))

	outFile := filepath.Join(workDir, "output.mp4")
	cmd := exec.CommandContext(ctx, s.ffmpegPath, "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-nostats",
		"-progress", "pipe:1",
		outFile,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe failed: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg failed: %w", err)
	}

	s.trackProgress(stdout, totalDuration, report)

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("stitch failed: %v: %s", err, tail(stderr.String(), 500))
	}
	report(90)

	out, err := os.ReadFile(outFile)
	if err != nil {
		return nil, fmt.Errorf("read stitched output failed: %w", err)
	}
	report(100)
	log.Info().Int("clips", len(clips)).Int("bytes", len(out)).Msg("clips stitched")
	return out, nil
}

// trackProgress consumes ffmpeg's key=value progress stream and maps
// out_time against the expected total duration onto the 30-90 band.
func (s *Stitcher) trackProgress(stdout io.Reader, total time.Duration, report func(int)) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if total <= 0 {
			if line == "progress=continue" {
				report(60)
			}
			continue
		}
		val, ok := strings.CutPrefix(line, "out_time_ms=")
		if !ok {
			continue
		}
		us, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		// out_time_ms is microseconds despite the name
		ratio := float64(us) * float64(time.Microsecond) / float64(total)
		if ratio > 1 {
			ratio = 1
		}
		report(30 + int(ratio*60))
	}
}

// totalDuration sums the ffprobe'd duration of every input. Zero means
// unknown.
func (s *Stitcher) totalDuration(ctx context.Context, workDir string, count int) time.Duration {
	if s.ffprobePath == "" {
		return 0
	}
	var total time.Duration
	for i := 0; i < count; i++ {
		name := filepath.Join(workDir, fmt.Sprintf("input%02d.mp4", i))
		out, err := exec.CommandContext(ctx, s.ffprobePath,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			name,
		).Output()
		if err != nil {
			return 0
		}
		secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
		if err != nil {
			return 0
		}
		total += time.Duration(secs * float64(time.Second))
	}
	return total
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// DownloadClips fetches every clip URL concurrently and returns the bodies
// in input order.
func DownloadClips(ctx context.Context, client *http.Client, urls []string) ([][]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	clips := make([][]byte, len(urls))
	grp, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		grp.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, u, nil)
			if err != nil {
				return fmt.Errorf("download clip %d: %w", i+1, err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("download clip %d: %w", i+1, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("download clip %d: status %d", i+1, resp.StatusCode)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("download clip %d: %w", i+1, err)
			}
			clips[i] = body
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return clips, nil
}
