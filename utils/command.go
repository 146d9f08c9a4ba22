package utils

import "fmt"

// BuildDownloadArgs constructs the yt-dlp argument vector for one job. User
// influenced values travel as individual argv elements and are never
// interpolated into a shell string.
func BuildDownloadArgs(url, quality, format, outputTemplate, maxFileSize string) []string {
	var args []string

	switch format {
	case "mp3":
		args = append(args, "--extract-audio", "--audio-format", "mp3", "--audio-quality", "0")
	case "webm":
		args = append(args, "-f", "best[ext=webm]")
	default: // mp4
		switch quality {
		case "best":
			args = append(args, "-f", "best[ext=mp4]")
		case "worst":
			args = append(args, "-f", "worst[ext=mp4]")
		default:
			args = append(args, "-f", fmt.Sprintf("best[height<=%s][ext=mp4]", quality))
		}
	}

	args = append(args,
		"--newline",
		"--no-playlist",
		"--restrict-filenames",
		"--no-warnings",
		"--max-filesize", maxFileSize,
		"-o", outputTemplate,
		url,
	)
	return args
}

// BuildProbeArgs constructs the metadata-only invocation used to fetch the
// video title before downloading.
func BuildProbeArgs(url string) []string {
	return []string{"--dump-json", "--no-download", "--no-playlist", "--no-warnings", url}
}
