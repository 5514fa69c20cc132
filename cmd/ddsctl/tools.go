package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KevinKickass/OpenSynthCore/internal/auth"
	"github.com/KevinKickass/OpenSynthCore/internal/regconfig"
	"github.com/KevinKickass/OpenSynthCore/internal/streaming"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
)

func runCheckConfig(args []string) error {
	fs := newFlagSet("check-config")
	verbose := fs.BoolP("verbose", "v", false, "list every entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one document path")
	}

	doc, err := regconfig.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d clock entries, %d converter entries\n", fs.Arg(0), len(doc.Clock), len(doc.Converter))
	if *verbose {
		for _, e := range doc.Clock {
			fmt.Printf("  lmk 0x%04X = 0x%02X\n", e.Address, e.Value)
		}
		for _, e := range doc.Converter {
			fmt.Printf("  dac 0x%04X = 0x%04X\n", e.Address, e.Value)
		}
	}
	return nil
}

func runHashPassword(args []string) error {
	fs := newFlagSet("hash-password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if len(password) < 8 {
		return fmt.Errorf("password must have at least 8 characters")
	}

	hash, err := auth.NewPasswordHasher().HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runNewToken(args []string) error {
	fs := newFlagSet("new-token")
	name := fs.StringP("name", "n", "bench", "token name")
	perms := fs.StringSlice("permissions", []string{string(auth.PermOperator)}, "granted permissions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token, hash, err := auth.NewMachineTokenGenerator().GenerateMachineToken()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "token (shown once): %s\n\n", token)
	fmt.Printf("- name: %s\n  hash: %s\n  permissions: [%s]\n", *name, hash, strings.Join(*perms, ", "))
	return nil
}

func runWatch(args []string) error {
	fs := newFlagSet("watch")
	addr := fs.StringP("addr", "a", "localhost:50051", "gRPC address of the server")
	if err := fs.Parse(args); err != nil {
		return err
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	stream, err := streaming.NewEventsClient(conn).Watch(context.Background())
	if err != nil {
		return err
	}
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line, err := protojson.Marshal(ev)
		if err != nil {
			return err
		}
		fmt.Println(string(line))
	}
}
