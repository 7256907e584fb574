// Package streamclient SSE 帧解析
package streamclient

import (
	"bufio"
	"io"
	"strings"
)

// frame 一帧 SSE 事件：可选的 id 行加 data 负载
type frame struct {
	ID   string
	Data []byte
}

// sseReader 逐帧解析 text/event-stream
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	s := bufio.NewScanner(r)
	// 增大缓冲区以处理大行（如携带完整轨迹的 done 事件）
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 1024*1024)
	return &sseReader{scanner: s}
}

// next 读取下一帧
//
// 帧以空行分隔；多个 data 行按协议拼接为一个负载。流正常
// 耗尽返回 io.EOF，读失败返回底层错误。
func (r *sseReader) next() (*frame, error) {
	var f frame
	hasData := false

	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if hasData {
				return &f, nil
			}
			// 帧之间的多余空行，跳过
		case strings.HasPrefix(line, "id:"):
			f.ID = strings.TrimSpace(line[len("id:"):])
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line[len("data:"):], " ")
			if hasData {
				f.Data = append(f.Data, '\n')
			}
			f.Data = append(f.Data, data...)
			hasData = true
		case strings.HasPrefix(line, ":"):
			// 注释行（服务端心跳），忽略
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if hasData {
		// 流在最后一帧后没有空行就关闭了，帧本身是完整的
		return &f, nil
	}
	return nil, io.EOF
}
