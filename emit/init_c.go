package emit

// initText is the template for the generated runtime resolver. It is
// deliberately plain C99 so it can be compiled into any consumer; all
// mode switches surface as preprocessor constants to keep the emitted
// file readable and patchable.
const initText = `// Generated by shimport for {{cstr .LoadName}}. Do not edit.

#define _GNU_SOURCE

#include <dlfcn.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>
#if {{boolInt .ThreadSafe}}
#include <pthread.h>
#endif

#ifdef __cplusplus
extern "C" {
#endif

#define NO_DLOPEN {{boolInt (not .Dlopen)}}
#define LAZY_LOAD {{boolInt .Lazy}}
#define THREAD_SAFE {{boolInt .ThreadSafe}}
#define FROM_START_SCOPE {{boolInt .HiddenShims}}
#define HAS_DLOPEN_CALLBACK {{boolInt (ne .DlopenCallback "")}}
#define HAS_DLSYM_CALLBACK {{boolInt (ne .DlsymCallback "")}}

#define CHECK(cond, fmt, ...) do { \
    if (!(cond)) { \
      fprintf(stderr, "shimport: " {{cfmt .LoadName}} ": " fmt "\n", ##__VA_ARGS__); \
      abort(); \
    } \
  } while (0)

enum { SYM_COUNT = {{len .Names}} };

static const char *const sym_names[] = {
{{- range .Names}}
  {{cstr .}},
{{- end}}
  0,
};

// Version tags ride along so versioned definitions are pinned with
// dlvsym instead of falling back to an unrelated unversioned symbol.
static const char *const sym_versions[] = {
{{- range .Versions}}
  {{if .}}{{cstr .}}{{else}}0{{end}},
{{- end}}
  0,
};

extern void *_{{.Tag}}_tramp_table[];

static void *lib_handle;
static int lib_owned;
static volatile int is_lib_loading;

#if HAS_DLOPEN_CALLBACK
extern void *{{.DlopenCallback}}(const char *lib_name);
#endif
#if HAS_DLSYM_CALLBACK
extern void *{{.DlsymCallback}}(void *handle, const char *sym_name);
#endif

#if THREAD_SAFE
static pthread_mutex_t lib_lock = PTHREAD_MUTEX_INITIALIZER;
#endif

static void load_library_impl(void) {
  is_lib_loading = 1;
#if NO_DLOPEN
  CHECK(0, "internal error: load attempted with dlopen disabled");
#elif HAS_DLOPEN_CALLBACK
  lib_handle = {{.DlopenCallback}}({{cstr .LoadName}});
  CHECK(lib_handle, "callback '{{.DlopenCallback}}' failed to load library");
  lib_owned = 0;
#else
  lib_handle = dlopen({{cstr .LoadName}}, RTLD_LAZY | RTLD_GLOBAL);
  CHECK(lib_handle, "failed to load library: %s", dlerror());
  lib_owned = 1;
#endif
  is_lib_loading = 0;
}

static void *load_library(void) {
  if (lib_handle)
    return lib_handle;
#if THREAD_SAFE
  pthread_mutex_lock(&lib_lock);
  if (lib_handle) {
    pthread_mutex_unlock(&lib_lock);
    return lib_handle;
  }
#endif
  load_library_impl();
#if THREAD_SAFE
  pthread_mutex_unlock(&lib_lock);
#endif
  return lib_handle;
}

void _{{.Tag}}_tramp_resolve(int i) {
  void *h;
  void *addr;

  // An index outside the table means the generated pair is corrupted
  // or mismatched; never tolerate that silently.
  CHECK(i >= 0 && i < SYM_COUNT,
        "index %d out of range for resolution table of %d entries", i, (int)SYM_COUNT);
  CHECK(!is_lib_loading,
        "library function '%s' called during library load", sym_names[i]);

#if NO_DLOPEN
# if FROM_START_SCOPE
  h = RTLD_DEFAULT;
# else
  h = RTLD_NEXT;
# endif
#else
  h = load_library();
  CHECK(h, "failed to resolve symbol '%s', library failed to load", sym_names[i]);
#endif

#if HAS_DLSYM_CALLBACK
  addr = {{.DlsymCallback}}(h, sym_names[i]);
  CHECK(addr, "callback '{{.DlsymCallback}}' failed to resolve symbol '%s'", sym_names[i]);
#else
  // dlsym/dlvsym are internally synchronized.
  if (sym_versions[i])
    addr = dlvsym(h, sym_names[i], sym_versions[i]);
  else
    addr = dlsym(h, sym_names[i]);
  CHECK(addr, "failed to resolve symbol '%s': %s", sym_names[i], dlerror());
#endif

  // Concurrent first calls race benignly: every racer looks up the
  // same name and stores the same address.
  _{{.Tag}}_tramp_table[i] = addr;
}

void _{{.Tag}}_tramp_resolve_all(void) {
  int i;
  for (i = 0; i < SYM_COUNT; ++i)
    _{{.Tag}}_tramp_resolve(i);
}

// Returns every slot to the unresolved state and drops the library
// handle (closing it if this resolver opened it). Not safe against
// in-flight resolutions; callers synchronize.
void _{{.Tag}}_tramp_reset(void) {
  memset(_{{.Tag}}_tramp_table, 0, SYM_COUNT * sizeof(void *));
  if (lib_handle && lib_owned)
    dlclose(lib_handle);
  lib_handle = 0;
  lib_owned = 0;
}

#if !NO_DLOPEN && !LAZY_LOAD
static void __attribute__((constructor)) shimport_eager_resolve(void) {
  _{{.Tag}}_tramp_resolve_all();
}
#endif

#if !NO_DLOPEN
static void __attribute__((destructor)) shimport_unload(void) {
  if (lib_handle && lib_owned)
    dlclose(lib_handle);
}
#endif

#ifdef __cplusplus
}  // extern "C"
#endif
`
