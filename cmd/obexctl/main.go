// Command obexctl exchanges objects with an OBEX server over a TCP stream.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/goobex/logger"
	"github.com/user/goobex/obex"
)

var (
	addr     string
	target   string
	logLevel string

	outputPath string
	putName    string
	mimeType   string
)

var rootCmd = &cobra.Command{
	Use:   "obexctl",
	Short: "OBEX client for object exchange over a TCP stream",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetLevel(logger.ParseLevel(logLevel))
	},
	SilenceUsage: true,
}

var getCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Fetch an object from the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var putCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Send a file to the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runPut,
}

var cdCmd = &cobra.Command{
	Use:   "cd <folder>",
	Short: "Change the server's current folder (\"..\" moves up, \"\" selects the root)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetPath,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "localhost:650", "server address (host:port)")
	rootCmd.PersistentFlags().StringVar(&target, "target", "", "target service UUID for the CONNECT")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")

	getCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the object to this file instead of stdout")
	putCmd.Flags().StringVar(&putName, "name", "", "object name to send (defaults to the file name)")
	putCmd.Flags().StringVar(&mimeType, "type", "", "MIME type of the object")

	rootCmd.AddCommand(getCmd, putCmd, cdCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// dialSession connects to the server and completes the OBEX CONNECT
// exchange, optionally directed at a target service UUID.
func dialSession() (*obex.ClientSession, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	session := obex.NewClientSession(conn)

	headers := obex.NewHeaderSet()
	if target != "" {
		id, err := uuid.Parse(target)
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("bad target UUID %q: %w", target, err)
		}
		headers.SetTarget(id)
	}

	reply, err := session.Connect(headers)
	if err != nil {
		session.Close()
		return nil, err
	}
	if reply.ResponseCode != obex.ResponseOK {
		session.Close()
		return nil, fmt.Errorf("connect refused: %s", obex.ResponseName(reply.ResponseCode))
	}
	logger.Info("obexctl", "connected to %s (max packet size %d)", addr, session.MaxPacketSize())
	logger.DebugJSON("obexctl", "connect result", struct {
		Code          string `json:"code"`
		MaxPacketSize int    `json:"maxPacketSize"`
		Target        string `json:"target,omitempty"`
	}{obex.ResponseName(reply.ResponseCode), session.MaxPacketSize(), target})
	return session, nil
}

func closeSession(session *obex.ClientSession) {
	if _, err := session.Disconnect(nil); err != nil {
		logger.Warn("obexctl", "disconnect: %v", err)
	}
	session.Close()
}

func runGet(cmd *cobra.Command, args []string) error {
	session, err := dialSession()
	if err != nil {
		return err
	}
	defer closeSession(session)

	headers := obex.NewHeaderSet()
	headers.SetName(args[0])

	op, err := session.Get(headers)
	if err != nil {
		return err
	}
	defer op.Close()

	in, err := op.OpenInputStream()
	if err != nil {
		return err
	}

	dst := io.Writer(os.Stdout)
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		dst = f
	}

	written, err := io.Copy(dst, in)
	if err != nil {
		return err
	}
	if err := in.Close(); err != nil {
		return err
	}

	code, err := op.ResponseCode()
	if err != nil {
		return err
	}
	if !obex.IsSuccess(code) {
		return fmt.Errorf("get %q failed: %s", args[0], obex.ResponseName(code))
	}
	logger.Info("obexctl", "received %q (%d bytes)", args[0], written)
	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	session, err := dialSession()
	if err != nil {
		return err
	}
	defer closeSession(session)

	name := putName
	if name == "" {
		name = filepath.Base(args[0])
	}
	headers := obex.NewHeaderSet()
	headers.SetName(name)
	headers.SetLength(uint32(info.Size()))
	if mimeType != "" {
		headers.SetMimeType(mimeType)
	}

	op, err := session.Put(headers)
	if err != nil {
		return err
	}
	defer op.Close()

	out, err := op.OpenOutputStream()
	if err != nil {
		return err
	}
	written, err := io.Copy(out, f)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	code, err := op.ResponseCode()
	if err != nil {
		return err
	}
	if !obex.IsSuccess(code) {
		return fmt.Errorf("put %q failed: %s", name, obex.ResponseName(code))
	}
	logger.Info("obexctl", "sent %q (%d bytes)", name, written)
	return nil
}

func runSetPath(cmd *cobra.Command, args []string) error {
	session, err := dialSession()
	if err != nil {
		return err
	}
	defer closeSession(session)

	name := args[0]
	backup := name == ".."
	if backup {
		name = ""
	}
	reply, err := session.SetPath(name, backup, false, nil)
	if err != nil {
		return err
	}
	if reply.ResponseCode != obex.ResponseOK {
		return fmt.Errorf("setpath failed: %s", obex.ResponseName(reply.ResponseCode))
	}
	return nil
}
