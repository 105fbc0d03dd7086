package logging

import "log/slog"

// Domain identifiers

func User(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Job(id string) slog.Attr {
	return slog.String("job_id", id)
}

func Session(id string) slog.Attr {
	return slog.String("session_id", id)
}

func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

func Kind(kind string) slog.Attr {
	return slog.String("kind", kind)
}

func Recipients(n int) slog.Attr {
	return slog.Int("recipients", n)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
