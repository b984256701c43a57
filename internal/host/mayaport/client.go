// Package mayaport implements a host session backed by Maya's command port.
// Commands are sent as MEL text over a plain TCP connection and replies are
// read back as NUL-terminated strings.
package mayaport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"RigForge/internal/host"
)

const (
	defaultAddress = "127.0.0.1:20240"
	defaultTimeout = 30 * time.Second
)

// Config 描述连接 Maya 命令端口所需的信息。
type Config struct {
	Address string
	Timeout time.Duration
}

// Client 通过 TCP 与 Maya 命令端口交互。同一连接上的命令必须串行发送，
// 因此所有请求都由互斥锁保护。
type Client struct {
	address string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

var _ host.Session = (*Client)(nil)

// NewClient 根据配置创建命令端口客户端。连接按需建立。
func NewClient(cfg Config) (*Client, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		address = defaultAddress
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{address: address, timeout: timeout}, nil
}

// ResolveNodes 通过 ls 命令把选择器展开为长路径节点名。
func (c *Client) ResolveNodes(ctx context.Context, selectors []string) ([]string, error) {
	if len(selectors) == 0 {
		return nil, nil
	}
	var builder strings.Builder
	builder.WriteString("ls -long")
	for _, sel := range selectors {
		builder.WriteString(" ")
		builder.WriteString(quote(sel))
	}
	reply, err := c.eval(ctx, builder.String())
	if err != nil {
		return nil, err
	}
	nodes := splitReply(reply)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("选择器 %v 没有匹配到任何节点", selectors)
	}
	return nodes, nil
}

// ApplyBind 组装 skinCluster 命令并执行绑定。
func (c *Client) ApplyBind(ctx context.Context, req host.BindRequest) (*host.BindResult, error) {
	if len(req.Meshes) == 0 {
		return nil, errors.New("绑定请求缺少网格")
	}

	var builder strings.Builder
	builder.WriteString("skinCluster -toSelectedBones")
	builder.WriteString(" -bindMethod " + strconv.Itoa(req.BindMethod))
	builder.WriteString(" -skinMethod " + strconv.Itoa(req.SkinMethod))
	builder.WriteString(" -normalizeWeights " + strconv.Itoa(req.NormalizeWeights))
	builder.WriteString(" -weightDistribution " + strconv.Itoa(req.WeightDistribution))
	builder.WriteString(" -maximumInfluences " + strconv.Itoa(req.MaxInfluences))
	builder.WriteString(" -obeyMaxInfluences " + strconv.FormatBool(req.MaintainMaxInfluence))
	builder.WriteString(" -dropoffRate " + strconv.FormatFloat(req.DropoffRate, 'f', -1, 64))
	builder.WriteString(" -removeUnusedInfluence " + strconv.FormatBool(req.RemoveUnusedInfluences))
	for _, joint := range req.Joints {
		builder.WriteString(" ")
		builder.WriteString(quote(joint))
	}
	for _, mesh := range req.Meshes {
		builder.WriteString(" ")
		builder.WriteString(quote(mesh))
	}

	reply, err := c.eval(ctx, builder.String())
	if err != nil {
		return nil, err
	}
	created := splitReply(reply)
	if len(created) == 0 {
		return nil, errors.New("skinCluster 命令没有返回节点")
	}

	affected := append([]string{created[0]}, req.Meshes...)
	affected = append(affected, req.Joints...)
	return &host.BindResult{
		SkinCluster:   created[0],
		Influences:    append([]string(nil), req.Joints...),
		AffectedNodes: affected,
	}, nil
}

// OpenUndoChunk 在宿主中打开一个命名撤销块。
func (c *Client) OpenUndoChunk(ctx context.Context, name string) error {
	_, err := c.eval(ctx, "undoInfo -openChunk -chunkName "+quote(name))
	return err
}

// CloseUndoChunk 关闭当前撤销块。
func (c *Client) CloseUndoChunk(ctx context.Context) error {
	_, err := c.eval(ctx, "undoInfo -closeChunk")
	return err
}

// Undo 回滚最近一个撤销块。
func (c *Client) Undo(ctx context.Context) error {
	_, err := c.eval(ctx, "undo")
	return err
}

// Close 关闭底层 TCP 连接。
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// eval 发送一条 MEL 命令并等待以 NUL 结尾的回复。
func (c *Client) eval(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(ctx); err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("设置连接超时失败: %w", err)
	}

	if _, err := c.conn.Write([]byte(command + "\n")); err != nil {
		c.dropConn()
		return "", fmt.Errorf("发送命令失败: %w", err)
	}

	reply, err := c.reader.ReadString('\x00')
	if err != nil {
		c.dropConn()
		return "", fmt.Errorf("读取宿主回复失败: %w", err)
	}
	reply = strings.TrimSpace(strings.TrimSuffix(reply, "\x00"))

	if strings.HasPrefix(reply, "Error:") || strings.HasPrefix(reply, "// Error") {
		return "", fmt.Errorf("宿主执行命令失败: %s", reply)
	}
	return reply, nil
}

func (c *Client) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("连接宿主命令端口 %s 失败: %w", c.address, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *Client) dropConn() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

func quote(value string) string {
	return "\"" + strings.ReplaceAll(value, "\"", "\\\"") + "\""
}

// splitReply 把命令端口返回的制表符或换行分隔的列表拆成节点名。
func splitReply(reply string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return r == '\t' || r == '\n' || r == '\r'
	})
	var nodes []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			nodes = append(nodes, f)
		}
	}
	return nodes
}
