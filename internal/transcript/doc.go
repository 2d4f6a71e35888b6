// Package transcript fetches video subtitles and splits them for summarization.
//
// Split breaks text into word-bounded chunks; CleanVTT turns a WebVTT file
// into running text. YTDLPSource shells out to yt-dlp, preferring pt, pt-BR
// and pt-PT subtitles, then en, then whatever .vtt the video has.
package transcript
