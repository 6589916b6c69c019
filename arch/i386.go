package arch

// The i386 stubs use %eax as scratch, which is legal under the SysV
// cdecl convention but incompatible with regparm-annotated functions.
func init() {
	register(&Model{
		Name:         "i386",
		PointerSize:  4,
		SymbolRelocs: []string{"R_386_32", "R_386_GLOB_DAT"},
		tableText:    commonTable,
		trampText: `
  .globl {{.Sym}}
{{- if .Hidden}}
  .hidden {{.Sym}}
{{- end}}
  .p2align 4
  .type {{.Sym}}, %function
{{.Sym}}:
  .cfi_startproc
  call 1f
  .cfi_adjust_cfa_offset 4
1:
  popl %eax
  .cfi_adjust_cfa_offset -4
  addl $_GLOBAL_OFFSET_TABLE_+(. - 1b), %eax
  cmpl $0, _{{.Tag}}_tramp_table@GOTOFF+{{.Offset}}(%eax)
  je 3f
2:
  jmp *_{{.Tag}}_tramp_table@GOTOFF+{{.Offset}}(%eax)
3:
  pushl ${{.Number}}
  .cfi_adjust_cfa_offset 4
  call _{{.Tag}}_save_regs_and_resolve
  addl $4, %esp
  .cfi_adjust_cfa_offset -4
  // The glue preserves %eax, so the PIC base is still valid.
  jmp 2b
  .cfi_endproc
`,
		glueText: `
  .text

  .globl _{{.Tag}}_tramp_resolve
  .hidden _{{.Tag}}_tramp_resolve

  .globl _{{.Tag}}_save_regs_and_resolve
  .hidden _{{.Tag}}_save_regs_and_resolve
  .type _{{.Tag}}_save_regs_and_resolve, %function
_{{.Tag}}_save_regs_and_resolve:
  .cfi_startproc

  // Arguments travel on the stack under cdecl, so only the
  // caller-saved registers need preserving.
  pushl %eax
  .cfi_adjust_cfa_offset 4
  .cfi_rel_offset eax, 0
  pushl %ecx
  .cfi_adjust_cfa_offset 4
  .cfi_rel_offset ecx, 0
  pushl %edx
  .cfi_adjust_cfa_offset 4
  .cfi_rel_offset edx, 0

  subl $4, %esp
  .cfi_adjust_cfa_offset 4

  // Symbol index sits above the saved registers and return address;
  // repush it as the argument, keeping %esp 16-byte aligned at the call.
  pushl 20(%esp)
  .cfi_adjust_cfa_offset 4
  call _{{.Tag}}_tramp_resolve
  addl $8, %esp
  .cfi_adjust_cfa_offset -8

  popl %edx
  .cfi_adjust_cfa_offset -4
  .cfi_restore edx
  popl %ecx
  .cfi_adjust_cfa_offset -4
  .cfi_restore ecx
  popl %eax
  .cfi_adjust_cfa_offset -4
  .cfi_restore eax

  ret

  .cfi_endproc
`,
	})
}
